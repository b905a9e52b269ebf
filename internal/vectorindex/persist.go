package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/models"
	"pharma-docs-platform/utils"
)

// On-disk layout: three co-located artifacts per index name.
//   <name>.index          native binary (header + float32 rows)
//   <name>_metadata.json  sidecar with counts, threshold and per-chunk metadata
//   <name>_chunks.json.gz order-aligned chunk list, gzip-compressed
const (
	indexFileExt     = ".index"
	metadataFileSfx  = "_metadata.json"
	chunksFileSfx    = "_chunks.json.gz"
	indexMagic       = "FIDX"
	indexFormatVer   = uint32(1)
	indexHeaderBytes = 16
)

type metadataSidecar struct {
	IndexType           string                 `json:"index_type"`
	Dimension           int                    `json:"dimension"`
	NumVectors          int                    `json:"num_vectors"`
	SimilarityThreshold float64                `json:"similarity_threshold"`
	Metadata            []models.ChunkMetadata `json:"metadata"`
}

// Save writes the three artifacts into dir. The directory is created when
// missing.
func (idx *Index) Save(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}

	idx.mu.RLock()
	vectors := idx.vectors
	chunks := idx.chunks
	dimension := idx.dimension
	threshold := idx.threshold
	idx.mu.RUnlock()

	if err := writeIndexBinary(filepath.Join(dir, name+indexFileExt), dimension, vectors); err != nil {
		return err
	}

	sidecar := metadataSidecar{
		IndexType:           IndexTypeFlatIP,
		Dimension:           dimension,
		NumVectors:          len(vectors),
		SimilarityThreshold: threshold,
		Metadata:            make([]models.ChunkMetadata, len(chunks)),
	}
	for i, c := range chunks {
		sidecar.Metadata[i] = c.Metadata()
	}
	metaBytes, err := json.Marshal(sidecar)
	if err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, name+metadataFileSfx), metaBytes, 0644); err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}

	chunkBytes, err := json.Marshal(chunks)
	if err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}
	compressed, err := utils.CompressData(chunkBytes, utils.CompressionGzip)
	if err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, name+chunksFileSfx), compressed, 0644); err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}

	return nil
}

// Load replaces the index state from the artifacts in dir. When only the bare
// .index binary exists (legacy single-artifact bundles) the sidecars are
// synthesized: dimension and count come from the binary header, the chunk
// list stays empty. A partial current-format bundle (one sidecar missing) is
// an error.
func (idx *Index) Load(dir, name string) error {
	indexPath := filepath.Join(dir, name+indexFileExt)
	dimension, vectors, err := readIndexBinary(indexPath)
	if err != nil {
		return err
	}

	metaPath := filepath.Join(dir, name+metadataFileSfx)
	chunksPath := filepath.Join(dir, name+chunksFileSfx)
	metaExists := fileExists(metaPath)
	chunksExist := fileExists(chunksPath)

	if !metaExists && !chunksExist {
		// Legacy bundle: only the raw binary was backed up.
		logger.Warn("Loading legacy single-artifact index, synthesizing empty metadata",
			"name", name, "vectors", len(vectors))
		idx.mu.Lock()
		idx.vectors = vectors
		idx.chunks = nil
		idx.dimension = dimension
		idx.mu.Unlock()
		return nil
	}

	if !metaExists || !chunksExist {
		return dbErrorf("load", "incomplete index bundle %q: metadata present=%v chunks present=%v",
			name, metaExists, chunksExist)
	}

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return &VectorDBError{Op: "load", Err: err}
	}
	var sidecar metadataSidecar
	if err := json.Unmarshal(metaBytes, &sidecar); err != nil {
		return dbErrorf("load", "corrupt metadata sidecar %q: %v", name, err)
	}

	compressed, err := os.ReadFile(chunksPath)
	if err != nil {
		return &VectorDBError{Op: "load", Err: err}
	}
	chunkBytes, err := utils.DecompressData(compressed, utils.CompressionGzip)
	if err != nil {
		return dbErrorf("load", "corrupt chunk blob %q: %v", name, err)
	}
	var chunks []models.Chunk
	if err := json.Unmarshal(chunkBytes, &chunks); err != nil {
		return dbErrorf("load", "corrupt chunk blob %q: %v", name, err)
	}

	if sidecar.NumVectors != len(vectors) || len(chunks) != len(vectors) {
		return dbErrorf("load", "artifact counts disagree for %q: binary=%d sidecar=%d chunks=%d",
			name, len(vectors), sidecar.NumVectors, len(chunks))
	}

	idx.mu.Lock()
	idx.vectors = vectors
	idx.chunks = chunks
	idx.dimension = dimension
	idx.threshold = sidecar.SimilarityThreshold
	idx.mu.Unlock()
	return nil
}

func writeIndexBinary(path string, dimension int, vectors [][]float32) error {
	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	header := []uint32{indexFormatVer, uint32(dimension), uint32(len(vectors))}
	for _, h := range header {
		if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
			return &VectorDBError{Op: "save", Err: err}
		}
	}
	for _, v := range vectors {
		for _, x := range v {
			if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(x)); err != nil {
				return &VectorDBError{Op: "save", Err: err}
			}
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &VectorDBError{Op: "save", Err: err}
	}
	return nil
}

func readIndexBinary(path string) (int, [][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, &VectorDBError{Op: "load", Err: fmt.Errorf("missing index binary: %w", err)}
	}
	return decodeIndexBinary(data)
}

func decodeIndexBinary(data []byte) (int, [][]float32, error) {
	if len(data) < indexHeaderBytes || string(data[:4]) != indexMagic {
		return 0, nil, dbErrorf("load", "not a vector index binary")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != indexFormatVer {
		return 0, nil, dbErrorf("load", "unsupported index format version %d", version)
	}
	dimension := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))

	want := indexHeaderBytes + 4*dimension*count
	if len(data) != want {
		return 0, nil, dbErrorf("load", "index binary is %d bytes, want %d for %dx%d", len(data), want, count, dimension)
	}

	vectors := make([][]float32, count)
	off := indexHeaderBytes
	for i := 0; i < count; i++ {
		v := make([]float32, dimension)
		for j := 0; j < dimension; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vectors[i] = v
	}
	return dimension, vectors, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
