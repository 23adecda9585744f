// Package sstio assembles the SSTable component-file set: it wires the
// partition appender, primary index writer, Bloom filter, and summary
// sampler to a directory of temp-then-rename component files, committing
// atomically with DATA renamed last so its presence is the commit
// marker.
package sstio

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/checksum"
	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/compression"
	"github.com/heliumdb/sstable/internal/deletiontime"
	"github.com/heliumdb/sstable/internal/filter"
	"github.com/heliumdb/sstable/internal/logging"
	"github.com/heliumdb/sstable/internal/partition"
	"github.com/heliumdb/sstable/internal/primaryindex"
	"github.com/heliumdb/sstable/internal/rowindex"
	"github.com/heliumdb/sstable/internal/testutil"
	"github.com/heliumdb/sstable/internal/vfs"
)

// Component file names, relative to a table's directory.
const (
	ComponentData        = "Data.db"
	ComponentPrimaryIndex = "Index.db"
	ComponentStats        = "Statistics.db"
	ComponentSummary      = "Summary.db"
	ComponentTOC          = "TOC.txt"
	ComponentFilter       = "Filter.db"
	ComponentCompression  = "CompressionInfo.db"
	ComponentDigest       = "Digest.crc32"
	ComponentCRC          = "CRC.db"

	tempSuffix = ".tmp"
)

// Options configures block sealing, compression, and the Bloom filter.
// DiskAccessMode, IndexAccessMode and PopulateIoCacheOnFlush are stored
// with the options only: the component set does not read them and passes
// them to no file layer.
type Options struct {
	ColumnIndexSizeBytes   int
	BloomFilterFpChance    float64
	CompressionType        compression.Type
	ChecksumType           checksum.Type
	DiskAccessMode         string
	IndexAccessMode        string
	PopulateIoCacheOnFlush bool
	SummaryInterval        int
}

// DefaultOptions returns the engine's standard component-set settings:
// 64 KiB index blocks, a 1% Bloom filter, no compression, and CRC32C
// whole-file checksums.
func DefaultOptions() Options {
	return Options{
		ColumnIndexSizeBytes: 64 * 1024,
		BloomFilterFpChance:  0.01,
		CompressionType:      compression.NoCompression,
		ChecksumType:         checksum.TypeCRC32C,
		SummaryInterval:      128,
	}
}

func (o Options) wantsFilter() bool {
	return o.BloomFilterFpChance > 0 && o.BloomFilterFpChance < 1.0
}

// bitsPerKeyForFpChance converts a target false-positive rate into the
// Bloom filter's bits-per-key knob using the standard optimal-bits
// formula: bits ≈ -ln(p) / ln(2)^2.
func bitsPerKeyForFpChance(fp float64) int {
	if fp <= 0 {
		return 10
	}
	bits := -math.Log(fp) / (math.Ln2 * math.Ln2)
	if bits < 1 {
		bits = 1
	}
	return int(math.Ceil(bits))
}

// ComponentSet owns one SSTable's worth of temp component files and the
// writers layered over them. It is single-owner, matching the
// partition appender's concurrency model.
type ComponentSet struct {
	fs      vfs.FS
	dir     string
	opts    Options
	logger  logging.Logger
	version atom.MessagingVersion

	dataFile  vfs.WritableFile
	indexFile vfs.WritableFile

	filterBuilder *filter.BloomFilterBuilder
	summary       *primaryindex.SampledSummary
	indexWriter   *primaryindex.Writer
	appender      *partition.Appender

	numKeys  int
	poisoned atomic.Bool
}

// Open creates temp component files under dir and wires the write
// pipeline. schema describes the clustering/static-row shape shared by
// every partition appended.
func Open(fs vfs.FS, dir string, schema atom.Schema, opts Options, logger logging.Logger) (*ComponentSet, error) {
	logger = logging.OrDefault(logger)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sstio: creating table directory: %w", err)
	}

	dataFile, err := fs.Create(tempPath(dir, ComponentData))
	if err != nil {
		return nil, fmt.Errorf("sstio: creating data component: %w", err)
	}
	indexFile, err := fs.Create(tempPath(dir, ComponentPrimaryIndex))
	if err != nil {
		_ = dataFile.Close()
		return nil, fmt.Errorf("sstio: creating primary index component: %w", err)
	}

	cs := &ComponentSet{
		fs:        fs,
		dir:       dir,
		opts:      opts,
		logger:    logger,
		version:   atom.VersionCurrent,
		dataFile:  dataFile,
		indexFile: indexFile,
		summary:   primaryindex.NewSampledSummary(opts.SummaryInterval),
	}

	if opts.wantsFilter() {
		cs.filterBuilder = filter.NewBloomFilterBuilder(bitsPerKeyForFpChance(opts.BloomFilterFpChance))
	}

	var filterSink primaryindex.FilterSink
	if cs.filterBuilder != nil {
		filterSink = cs.filterBuilder
	}

	indexWriter, err := primaryindex.New(indexFile, filterSink, cs.summary, nil, logger)
	if err != nil {
		_ = dataFile.Close()
		_ = indexFile.Close()
		return nil, err
	}
	cs.indexWriter = indexWriter

	builderOpts := rowindex.BuilderOptions{
		ColumnIndexSizeBytes: opts.ColumnIndexSizeBytes,
		Version:              clustering.VersionDefault,
		StoreRows:            true,
	}
	appender, err := partition.NewAppender(dataFile, indexWriter, nil, schema, builderOpts, logger)
	if err != nil {
		_ = dataFile.Close()
		_ = indexFile.Close()
		return nil, err
	}
	cs.appender = appender

	if dl, ok := logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(string) { cs.poisoned.Store(true) })
	}

	logger.Infof("%sopened component set at %s", logging.NSSSTable, dir)
	return cs, nil
}

// Append writes one partition through the pipeline. A partition whose key
// is too large is skipped: Append returns partition.ErrKeyTooLarge and the
// set stays usable. Any other failure is reported through Fatalf; with a
// *logging.DefaultLogger the handler installed by Open then marks the set
// as poisoned, and every later Append is rejected.
func (cs *ComponentSet) Append(key []byte, partitionDeletion deletiontime.DeletionTime, staticRow []byte, stream rowindex.AtomStream) error {
	if cs.poisoned.Load() {
		return fmt.Errorf("sstio: component set at %s is in a fatal state, rejecting append: %w", cs.dir, logging.ErrFatal)
	}
	if err := cs.appender.AppendPartition(key, partitionDeletion, staticRow, stream); err != nil {
		if err == partition.ErrKeyTooLarge {
			// The appender logged the skip and wrote nothing for it.
			return err
		}
		cs.logger.Fatalf("%sappend for key failed, rejecting further writes to %s: %v", logging.NSSSTable, cs.dir, err)
		return err
	}
	cs.numKeys++
	return nil
}

// Close finalizes every component, renames them into place, and syncs
// the containing directory. DATA is renamed last so that its presence
// at the final path is the commit marker: a reader that sees DATA knows
// every other component already landed.
func (cs *ComponentSet) Close() error {
	filterBytes, err := cs.indexWriter.Close()
	if err != nil {
		return fmt.Errorf("sstio: closing primary index: %w", err)
	}

	if err := cs.writeStats(); err != nil {
		return err
	}
	if err := cs.writeSummary(); err != nil {
		return err
	}
	if filterBytes != nil {
		if err := cs.writeComponent(ComponentFilter, filterBytes); err != nil {
			return err
		}
	}
	if err := cs.writeCompressionOrDigest(); err != nil {
		return err
	}
	if err := cs.writeTOC(filterBytes != nil); err != nil {
		return err
	}

	// Commit: rename every component except DATA, sync the directory,
	// then rename DATA and sync again.
	renames := []string{ComponentPrimaryIndex, ComponentStats, ComponentSummary, ComponentTOC}
	if filterBytes != nil {
		renames = append(renames, ComponentFilter)
	}
	if cs.opts.CompressionType != compression.NoCompression {
		renames = append(renames, ComponentCompression)
	} else {
		renames = append(renames, ComponentDigest, ComponentCRC)
	}

	for _, name := range renames {
		testutil.MaybeKill(testutil.KPComponentRename0)
		if err := cs.fs.Rename(tempPath(cs.dir, name), finalPath(cs.dir, name)); err != nil {
			return fmt.Errorf("sstio: committing %s: %w", name, err)
		}
		testutil.MaybeKill(testutil.KPComponentRename1)
	}
	testutil.MaybeKill(testutil.KPDirSync0)
	if err := cs.fs.SyncDir(cs.dir); err != nil {
		return fmt.Errorf("sstio: syncing directory before data commit: %w", err)
	}
	testutil.MaybeKill(testutil.KPDirSync1)

	testutil.MaybeKill(testutil.KPFileSync0)
	if err := cs.dataFile.Sync(); err != nil {
		return fmt.Errorf("sstio: syncing data component: %w", err)
	}
	testutil.MaybeKill(testutil.KPFileSync1)
	if err := cs.dataFile.Close(); err != nil {
		return fmt.Errorf("sstio: closing data component: %w", err)
	}
	testutil.MaybeKill(testutil.KPComponentRename0)
	if err := cs.fs.Rename(tempPath(cs.dir, ComponentData), finalPath(cs.dir, ComponentData)); err != nil {
		return fmt.Errorf("sstio: committing data component: %w", err)
	}
	testutil.MaybeKill(testutil.KPComponentRename1)
	if err := cs.fs.SyncDir(cs.dir); err != nil {
		return err
	}
	cs.logger.Infof("%scommitted %d partitions to %s", logging.NSSSTable, cs.numKeys, cs.dir)
	return nil
}

// Abort discards every temp component file without committing any of
// them.
func (cs *ComponentSet) Abort() error {
	_ = cs.dataFile.Close()
	_ = cs.indexFile.Close()
	names := []string{ComponentData, ComponentPrimaryIndex, ComponentStats, ComponentSummary, ComponentTOC, ComponentFilter, ComponentCompression, ComponentDigest, ComponentCRC}
	var firstErr error
	for _, name := range names {
		p := tempPath(cs.dir, name)
		if !cs.fs.Exists(p) {
			continue
		}
		if err := cs.fs.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (cs *ComponentSet) writeStats() error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(cs.numKeys))
	return cs.writeComponent(ComponentStats, buf)
}

func (cs *ComponentSet) writeSummary() error {
	var buf []byte
	for _, e := range cs.summary.Entries {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.Key)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e.Key...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Offset))
	}
	return cs.writeComponent(ComponentSummary, buf)
}

// writeCompressionOrDigest writes exactly one of COMPRESSION_INFO or the
// DIGEST+CRC pair, gated on whether this table is compressed. A
// compressed table's DATA component is rewritten in place with
// cs.opts.CompressionType before commit; the component records the codec
// and the original uncompressed size a reader needs to size its output
// buffer. An uncompressed table instead gets a whole-file checksum using
// cs.opts.ChecksumType.
func (cs *ComponentSet) writeCompressionOrDigest() error {
	if cs.opts.CompressionType != compression.NoCompression {
		return cs.compressDataFile()
	}

	if err := cs.dataFile.Sync(); err != nil {
		return fmt.Errorf("sstio: syncing data component before digest: %w", err)
	}
	contents, err := cs.readDataFile()
	if err != nil {
		return fmt.Errorf("sstio: reading data component for digest: %w", err)
	}

	crc := checksum.ComputeChecksum(cs.opts.ChecksumType, contents, 0)
	var crcBuf [5]byte
	crcBuf[0] = byte(cs.opts.ChecksumType)
	binary.BigEndian.PutUint32(crcBuf[1:], crc)
	if err := cs.writeComponent(ComponentCRC, crcBuf[:]); err != nil {
		return err
	}
	return cs.writeComponent(ComponentDigest, []byte(fmt.Sprintf("%d", crc)))
}

// compressDataFile reads back the just-written, uncompressed DATA
// component, compresses it whole with cs.opts.CompressionType, and
// replaces the temp DATA file's contents with the compressed bytes. The
// caller's later Sync/Close/Rename of cs.dataFile then commits the
// compressed form.
func (cs *ComponentSet) compressDataFile() error {
	if err := cs.dataFile.Sync(); err != nil {
		return fmt.Errorf("sstio: syncing data component before compression: %w", err)
	}
	contents, err := cs.readDataFile()
	if err != nil {
		return fmt.Errorf("sstio: reading data component for compression: %w", err)
	}
	compressed, err := compression.Compress(cs.opts.CompressionType, contents)
	if err != nil {
		return fmt.Errorf("sstio: compressing data component: %w", err)
	}
	if err := cs.dataFile.Close(); err != nil {
		return fmt.Errorf("sstio: closing data component before recompression: %w", err)
	}
	recompressed, err := cs.fs.Create(tempPath(cs.dir, ComponentData))
	if err != nil {
		return fmt.Errorf("sstio: recreating data component: %w", err)
	}
	if err := recompressed.Append(compressed); err != nil {
		_ = recompressed.Close()
		return fmt.Errorf("sstio: writing compressed data component: %w", err)
	}
	cs.dataFile = recompressed

	var buf []byte
	buf = append(buf, byte(cs.opts.CompressionType))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(contents)))
	return cs.writeComponent(ComponentCompression, buf)
}

// readDataFile reads the whole data component back through a separate
// random-access handle; the writable handle stays open for the final
// sync-and-close in Close.
func (cs *ComponentSet) readDataFile() ([]byte, error) {
	raf, err := cs.fs.OpenRandomAccess(tempPath(cs.dir, ComponentData))
	if err != nil {
		return nil, err
	}
	defer raf.Close()

	size := raf.Size()
	buf := make([]byte, size)
	if size > 0 {
		if _, err := raf.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (cs *ComponentSet) writeTOC(hasFilter bool) error {
	names := []string{ComponentData, ComponentPrimaryIndex, ComponentStats, ComponentSummary}
	if hasFilter {
		names = append(names, ComponentFilter)
	}
	if cs.opts.CompressionType != compression.NoCompression {
		names = append(names, ComponentCompression)
	} else {
		names = append(names, ComponentDigest, ComponentCRC)
	}
	var buf []byte
	for _, n := range names {
		buf = append(buf, n...)
		buf = append(buf, '\n')
	}
	return cs.writeComponent(ComponentTOC, buf)
}

func (cs *ComponentSet) writeComponent(name string, data []byte) error {
	f, err := cs.fs.Create(tempPath(cs.dir, name))
	if err != nil {
		return fmt.Errorf("sstio: creating %s: %w", name, err)
	}
	if err := f.Append(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("sstio: writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sstio: syncing %s: %w", name, err)
	}
	return f.Close()
}

func tempPath(dir, name string) string  { return filepath.Join(dir, name+tempSuffix) }
func finalPath(dir, name string) string { return filepath.Join(dir, name) }
