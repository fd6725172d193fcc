package notification

import (
	"context"
	"encoding/json"
	"log"
)

// LogService writes events to the process log. It is the default sink when
// no external channel has been configured.
type LogService struct{}

var _ Service = (*LogService)(nil)

func NewLog() *LogService { return &LogService{} }

func (s *LogService) Notify(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	log.Printf("run notification: %s", data)
	return nil
}
