package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/service/approval"
	"github.com/pedalhq/pedal/service/dao"
)

// Service is a filesystem-backed approval registry: one JSON document per
// checkpoint under basePath. Grants issued by an external process (a CLI, a
// cron job) become visible to a running engine on its next poll. The mutex
// serialises writes within one process; the monotonic-approval rule makes
// concurrent grants from several processes converge to the same state.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.Mutex
}

var _ approval.Service = (*Service)(nil)

// New creates a filesystem approval registry rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fsService := afs.New()
	ctx := context.Background()
	exists, _ := fsService.Exists(ctx, basePath)
	if !exists {
		if err := fsService.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create approval registry directory: %w", err)
		}
	}
	return &Service{
		basePath: url.Normalize(basePath, file.Scheme),
		fs:       fsService,
	}, nil
}

func (s *Service) Ensure(ctx context.Context, checkpoint string) (*approval.Entry, error) {
	if checkpoint == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.load(ctx, checkpoint)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}
	entry = &approval.Entry{Checkpoint: checkpoint, CreatedAt: clock.Now()}
	if err = s.store(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Grant(ctx context.Context, checkpoint string) (*approval.Entry, error) {
	if checkpoint == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.load(ctx, checkpoint)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &approval.Entry{Checkpoint: checkpoint, CreatedAt: clock.Now()}
	}
	if !entry.Approved {
		now := clock.Now()
		entry.Approved = true
		entry.GrantedAt = &now
		if err = s.store(ctx, entry); err != nil {
			return nil, err
		}
		log.Printf("approval granted for checkpoint %q at %s", checkpoint, now.Format("2006-01-02T15:04:05Z07:00"))
	}
	return entry, nil
}

func (s *Service) Query(ctx context.Context, checkpoint string) (bool, error) {
	entry, err := s.Entry(ctx, checkpoint)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Approved, nil
}

func (s *Service) Entry(ctx context.Context, checkpoint string) (*approval.Entry, error) {
	if checkpoint == "" {
		return nil, dao.ErrInvalidID
	}
	return s.load(ctx, checkpoint)
}

func (s *Service) Pending(ctx context.Context) ([]*approval.Entry, error) {
	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list approval entries: %w", err)
	}
	var pending []*approval.Entry
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		entry := &approval.Entry{}
		if err = json.Unmarshal(data, entry); err != nil {
			continue
		}
		if !entry.Approved {
			pending = append(pending, entry)
		}
	}
	return pending, nil
}

func (s *Service) load(ctx context.Context, checkpoint string) (*approval.Entry, error) {
	location := s.entryPath(checkpoint)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check checkpoint %q: %w", checkpoint, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %q: %w", checkpoint, err)
	}
	entry := &approval.Entry{}
	if err = json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %q: %w", checkpoint, err)
	}
	return entry, nil
}

func (s *Service) store(ctx context.Context, entry *approval.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %q: %w", entry.Checkpoint, err)
	}
	location := s.entryPath(entry.Checkpoint)
	if err = s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save checkpoint %q: %w", entry.Checkpoint, err)
	}
	return nil
}

func (s *Service) entryPath(checkpoint string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", checkpoint))
}
