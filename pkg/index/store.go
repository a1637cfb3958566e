package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ToolDescription is the parsed description of one tool.
type ToolDescription struct {
	Main string `json:"main"`
	Args string `json:"args,omitempty"`
}

// Tool is one tool entry inside a server's tool list.
type Tool struct {
	Name              string          `json:"name"`
	ParsedDescription ToolDescription `json:"parsed_description"`
	Schema            json.RawMessage `json:"schema,omitempty"`
}

// ServerInfo describes one registered server and its tools.
type ServerInfo struct {
	ServerName string `json:"server_name"`
	IsEnabled  bool   `json:"is_enabled"`
	ToolList   []Tool `json:"tool_list"`
}

// MetadataEntry ties a service path to its index position and server info.
type MetadataEntry struct {
	ID             int        `json:"id"`
	Text           string     `json:"text"`
	FullServerInfo ServerInfo `json:"full_server_info"`
}

// MetadataDoc is the on-disk metadata document parallel to the vector
// index. Every entry's ID is the vector's position in the index.
type MetadataDoc struct {
	Metadata map[string]MetadataEntry `json:"metadata"`
}

// snapshot is one consistent (index, metadata) pair.
type snapshot struct {
	index    *FlatIndex
	metadata *MetadataDoc
	// byPosition reverses the id field back to a service path.
	byPosition map[int]string

	indexMTime    time.Time
	metadataMTime time.Time
}

// Store loads the vector index and metadata lazily, re-reading both files
// together whenever either one's mtime moves, so no reader ever observes
// an index whose vector count disagrees with its metadata.
type Store struct {
	indexPath    string
	metadataPath string

	mu      sync.Mutex
	current *snapshot
}

// NewStore creates a store over the two index files. Nothing is read
// until the first Snapshot call.
func NewStore(indexPath, metadataPath string) *Store {
	return &Store{indexPath: indexPath, metadataPath: metadataPath}
}

// Snapshot returns a consistent (index, metadata, reverse-map) triple,
// reloading from disk when either file changed.
func (s *Store) Snapshot() (*FlatIndex, *MetadataDoc, map[int]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexStat, err := os.Stat(s.indexPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tool index unavailable: %w", err)
	}
	metaStat, err := os.Stat(s.metadataPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tool metadata unavailable: %w", err)
	}

	if s.current == nil ||
		indexStat.ModTime().After(s.current.indexMTime) ||
		metaStat.ModTime().After(s.current.metadataMTime) {
		snap, err := s.load(indexStat.ModTime(), metaStat.ModTime())
		if err != nil {
			return nil, nil, nil, err
		}
		s.current = snap
	}

	return s.current.index, s.current.metadata, s.current.byPosition, nil
}

// load reads both files and checks the position bijection.
func (s *Store) load(indexMTime, metaMTime time.Time) (*snapshot, error) {
	idx, err := LoadFlatIndex(s.indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool index: %w", err)
	}

	data, err := os.ReadFile(s.metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool metadata: %w", err)
	}
	var doc MetadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tool metadata: %w", err)
	}

	if len(doc.Metadata) != idx.Count() {
		return nil, fmt.Errorf("tool index has %d vectors but metadata has %d entries", idx.Count(), len(doc.Metadata))
	}

	byPosition := make(map[int]string, len(doc.Metadata))
	for path, entry := range doc.Metadata {
		if entry.ID < 0 || entry.ID >= idx.Count() {
			return nil, fmt.Errorf("metadata entry %s has out-of-range id %d", path, entry.ID)
		}
		if prev, dup := byPosition[entry.ID]; dup {
			return nil, fmt.Errorf("metadata entries %s and %s share id %d", prev, path, entry.ID)
		}
		byPosition[entry.ID] = path
	}

	return &snapshot{
		index:         idx,
		metadata:      &doc,
		byPosition:    byPosition,
		indexMTime:    indexMTime,
		metadataMTime: metaMTime,
	}, nil
}
