// Package bag reads the topic list of a ROS 2 bag from its metadata.yaml.
//
// Only the metadata is read; message storage (sqlite3 or mcap) is left to the
// external export tools.
package bag

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/bagsplit/internal/topics"
)

// MetadataFile is the name of the metadata file inside a bag directory.
const MetadataFile = "metadata.yaml"

// Topic is one entry of the bag's topic table.
type Topic struct {
	Name         string
	Type         string
	MessageCount uint64
}

// Metadata is the subset of metadata.yaml the splitter needs.
type Metadata struct {
	// Path is the bag directory.
	Path              string
	StorageIdentifier string
	MessageCount      uint64
	Topics            []Topic
}

// Streams converts the topic table to classifier input, preserving bag order.
func (m *Metadata) Streams() []topics.Stream {
	streams := make([]topics.Stream, 0, len(m.Topics))
	for _, t := range m.Topics {
		streams = append(streams, topics.Stream{Name: t.Name, Type: t.Type})
	}
	return streams
}

// Reader loads bag metadata. The orchestrator depends on this interface so
// tests can supply topic lists without a bag on disk.
type Reader interface {
	ReadMetadata(path string) (*Metadata, error)
}

// YAMLReader reads metadata.yaml from disk.
type YAMLReader struct{}

type metadataDoc struct {
	Info struct {
		Version           int    `yaml:"version"`
		StorageIdentifier string `yaml:"storage_identifier"`
		MessageCount      uint64 `yaml:"message_count"`
		Topics            []struct {
			Metadata struct {
				Name                string `yaml:"name"`
				Type                string `yaml:"type"`
				SerializationFormat string `yaml:"serialization_format"`
			} `yaml:"topic_metadata"`
			MessageCount uint64 `yaml:"message_count"`
		} `yaml:"topics_with_message_count"`
	} `yaml:"rosbag2_bagfile_information"`
}

// Dir resolves path to the bag directory. A path to metadata.yaml or to a
// storage file inside the bag resolves to its parent.
func Dir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat bag: %w", err)
	}
	if info.IsDir() {
		return path, nil
	}
	return filepath.Dir(path), nil
}

// ReadMetadata parses <bag>/metadata.yaml.
func (YAMLReader) ReadMetadata(path string) (*Metadata, error) {
	dir, err := Dir(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read bag metadata: %w", err)
	}

	var doc metadataDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bag metadata: %w", err)
	}

	md := &Metadata{
		Path:              dir,
		StorageIdentifier: doc.Info.StorageIdentifier,
		MessageCount:      doc.Info.MessageCount,
	}
	seen := make(map[string]bool, len(doc.Info.Topics))
	for _, t := range doc.Info.Topics {
		name := t.Metadata.Name
		if name == "" {
			return nil, fmt.Errorf("bag metadata lists a topic without a name")
		}
		// A stream's identity is its name.
		if seen[name] {
			continue
		}
		seen[name] = true
		md.Topics = append(md.Topics, Topic{
			Name:         name,
			Type:         t.Metadata.Type,
			MessageCount: t.MessageCount,
		})
	}
	return md, nil
}
