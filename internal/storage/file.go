// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/schema"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v2"
)

const fileFormatVersion = 1

var fileChecker = schema.StrictFieldMap(
	schema.Fields{
		"version":   schema.ForceInt(),
		"snapshots": schema.StringMap(schema.String()),
		"notices": schema.List(schema.StrictFieldMap(
			schema.Fields{
				"event-path":    schema.String(),
				"observer-path": schema.String(),
				"emitted":       schema.Int(),
			},
			schema.Defaults{"emitted": int64(0)},
		)),
	},
	schema.Defaults{
		"snapshots": schema.Omit,
		"notices":   schema.Omit,
	},
)

type fileDoc struct {
	Version   int               `yaml:"version"`
	Snapshots map[string]string `yaml:"snapshots,omitempty"`
	Notices   []fileNotice      `yaml:"notices,omitempty"`
}

type fileNotice struct {
	EventPath    string `yaml:"event-path"`
	ObserverPath string `yaml:"observer-path"`
	Emitted      int64  `yaml:"emitted"`
}

// FileStore is a Store that keeps its state in a single YAML document.
// Every change rewrites the document atomically.
type FileStore struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
}

var _ Store = (*FileStore)(nil)

// OpenFileStore returns a store persisting to the file at path. The file
// need not exist yet, but if it does it must hold a valid document.
func OpenFileStore(path string, clk clock.Clock) (*FileStore, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	s := &FileStore{path: path, clock: clk}
	if _, err := s.read(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// SaveSnapshot is part of the Store interface.
func (s *FileStore) SaveSnapshot(_ context.Context, handle string, data []byte) error {
	return s.update(func(doc *fileDoc) {
		if doc.Snapshots == nil {
			doc.Snapshots = make(map[string]string)
		}
		doc.Snapshots[handle] = string(data)
	})
}

// LoadSnapshot is part of the Store interface.
func (s *FileStore) LoadSnapshot(_ context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, ok := doc.Snapshots[handle]
	if !ok {
		return nil, errors.NotFoundf("snapshot %q", handle)
	}
	return []byte(data), nil
}

// DropSnapshot is part of the Store interface.
func (s *FileStore) DropSnapshot(_ context.Context, handle string) error {
	return s.update(func(doc *fileDoc) {
		delete(doc.Snapshots, handle)
	})
}

// SaveNotice is part of the Store interface.
func (s *FileStore) SaveNotice(_ context.Context, notice Notice) error {
	emitted := notice.Emitted
	if emitted.IsZero() {
		emitted = s.clock.Now()
	}
	return s.update(func(doc *fileDoc) {
		if indexOfNotice(doc.Notices, notice) >= 0 {
			return
		}
		doc.Notices = append(doc.Notices, fileNotice{
			EventPath:    notice.EventPath,
			ObserverPath: notice.ObserverPath,
			Emitted:      emitted.UnixNano(),
		})
	})
}

// Notices is part of the Store interface.
func (s *FileStore) Notices(_ context.Context) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, errors.Trace(err)
	}
	notices := make([]Notice, len(doc.Notices))
	for i, n := range doc.Notices {
		notices[i] = Notice{
			EventPath:    n.EventPath,
			ObserverPath: n.ObserverPath,
			Emitted:      time.Unix(0, n.Emitted).UTC(),
		}
	}
	return notices, nil
}

// DropNotice is part of the Store interface.
func (s *FileStore) DropNotice(_ context.Context, notice Notice) error {
	return s.update(func(doc *fileDoc) {
		if i := indexOfNotice(doc.Notices, notice); i >= 0 {
			doc.Notices = append(doc.Notices[:i], doc.Notices[i+1:]...)
		}
	})
}

// Close is part of the Store interface.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) update(change func(*fileDoc)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return errors.Trace(err)
	}
	change(doc)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(s.path, data, 0600); err != nil {
		return errors.Annotatef(err, "writing state file %q", s.path)
	}
	return nil
}

func (s *FileStore) read() (*fileDoc, error) {
	doc := &fileDoc{Version: fileFormatVersion}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading state file %q", s.path)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "parsing state file %q", s.path)
	}
	normalized, err := stringKeys(raw)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid state file %q", s.path)
	}
	coerced, err := fileChecker.Coerce(normalized, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid state file %q", s.path)
	}
	fields := coerced.(map[string]interface{})
	if version := fields["version"].(int); version != fileFormatVersion {
		return nil, errors.NotSupportedf("state file %q version %d", s.path, version)
	}
	// The coerced map keeps the key type of the decoded document.
	switch snapshots := fields["snapshots"].(type) {
	case map[interface{}]interface{}:
		doc.Snapshots = make(map[string]string, len(snapshots))
		for handle, value := range snapshots {
			doc.Snapshots[handle.(string)] = value.(string)
		}
	case map[string]interface{}:
		doc.Snapshots = make(map[string]string, len(snapshots))
		for handle, value := range snapshots {
			doc.Snapshots[handle] = value.(string)
		}
	}
	if notices, ok := fields["notices"].([]interface{}); ok {
		for _, n := range notices {
			m := n.(map[string]interface{})
			doc.Notices = append(doc.Notices, fileNotice{
				EventPath:    m["event-path"].(string),
				ObserverPath: m["observer-path"].(string),
				Emitted:      m["emitted"].(int64),
			})
		}
	}
	return doc, nil
}

// stringKeys converts the maps yaml decodes as map[interface{}]interface{}
// to map[string]interface{}, so that nested field maps check their keys
// by name.
func stringKeys(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, value := range v {
			key, ok := k.(string)
			if !ok {
				return nil, errors.NotValidf("key %v", k)
			}
			converted, err := stringKeys(value)
			if err != nil {
				return nil, errors.Trace(err)
			}
			out[key] = converted
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			converted, err := stringKeys(value)
			if err != nil {
				return nil, errors.Trace(err)
			}
			out[key] = converted
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, value := range v {
			converted, err := stringKeys(value)
			if err != nil {
				return nil, errors.Annotatef(err, "item %d", i)
			}
			out[i] = converted
		}
		return out, nil
	}
	return v, nil
}

func indexOfNotice(notices []fileNotice, notice Notice) int {
	for i, n := range notices {
		if n.EventPath == notice.EventPath && n.ObserverPath == notice.ObserverPath {
			return i
		}
	}
	return -1
}
