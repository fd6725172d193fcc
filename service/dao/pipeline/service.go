// Package pipeline loads pipeline definitions from YAML documents. Sources
// are addressed by URL through the afs abstraction, so definitions can live
// on the local filesystem, in memory or inside an embedded FS.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/pedalhq/pedal/model"
)

// Service resolves, decodes and caches pipeline definitions.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option

	mux   sync.RWMutex
	cache map[string]*model.Pipeline
}

// New creates a pipeline definition service. baseURL anchors relative
// locations; options are passed to every download (e.g. an embedded FS).
func New(baseURL string, options ...storage.Option) *Service {
	return &Service{
		fs:      afs.New(),
		baseURL: baseURL,
		options: options,
		cache:   make(map[string]*model.Pipeline),
	}
}

// DecodeYAML decodes a pipeline definition, assigns derived gate
// identifiers and validates the chain.
func (s *Service) DecodeYAML(encoded []byte) (*model.Pipeline, error) {
	pipeline := &model.Pipeline{}
	if err := yaml.Unmarshal(encoded, pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}
	pipeline.Init()
	if issues := pipeline.Validate(); len(issues) > 0 {
		return nil, errors.Join(issues...)
	}
	return pipeline, nil
}

// Load loads a pipeline definition from YAML at the specified URL, caching
// the result under its resolved location.
func (s *Service) Load(ctx context.Context, URL string) (*model.Pipeline, error) {
	location := s.normalizeURL(URL)

	s.mux.RLock()
	cached, ok := s.cache[URL]
	if !ok {
		cached, ok = s.cache[location]
	}
	s.mux.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := s.fs.DownloadWithURL(ctx, location, s.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline from %s: %w", location, err)
	}
	pipeline, err := s.DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline from %s: %w", location, err)
	}
	if pipeline.Name == "" {
		pipeline.Name = nameFromURL(location)
	}
	pipeline.Source = &model.Source{URL: location}

	s.mux.Lock()
	s.cache[location] = pipeline
	s.mux.Unlock()
	return pipeline, nil
}

// Refresh drops any cached copy and reloads the definition.
func (s *Service) Refresh(ctx context.Context, URL string) (*model.Pipeline, error) {
	location := s.normalizeURL(URL)
	s.mux.Lock()
	delete(s.cache, location)
	s.mux.Unlock()
	return s.Load(ctx, URL)
}

// Upsert registers a programmatically built pipeline under its name so that
// runs can refer to it without a backing document.
func (s *Service) Upsert(pipeline *model.Pipeline) error {
	if pipeline == nil || pipeline.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}
	pipeline.Init()
	if issues := pipeline.Validate(); len(issues) > 0 {
		return errors.Join(issues...)
	}
	s.mux.Lock()
	s.cache[pipeline.Name] = pipeline
	s.mux.Unlock()
	return nil
}

// normalizeURL anchors relative locations at baseURL and defaults the
// extension to .yaml.
func (s *Service) normalizeURL(URL string) string {
	if path.Ext(URL) == "" {
		URL += ".yaml"
	}
	if s.baseURL == "" || strings.Contains(URL, "://") || strings.HasPrefix(URL, "/") {
		return URL
	}
	return url.Join(s.baseURL, URL)
}

func nameFromURL(URL string) string {
	base := path.Base(URL)
	return strings.TrimSuffix(base, path.Ext(base))
}
