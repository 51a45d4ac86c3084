package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lizzyg/qwenai"
)

// The command line stands in for the host, so the "assist" tool set only
// knows about the local clock.
func assistTools() []qwenai.Tool {
	return []qwenai.Tool{clockTool{now: time.Now}}
}

type clockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name; the local zone when empty"`
}

type clockTool struct {
	now func() time.Time
}

func (clockTool) Name() string        { return "GetCurrentTime" }
func (clockTool) Description() string { return "Returns the current date and time" }
func (clockTool) Parameters() any     { return &clockArgs{} }

func (t clockTool) Execute(ctx context.Context, args any) (any, error) {
	a := args.(*clockArgs)
	now := t.now()
	if a.Timezone != "" {
		loc, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", a.Timezone)
		}
		now = now.In(loc)
	}
	return map[string]string{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	}, nil
}
