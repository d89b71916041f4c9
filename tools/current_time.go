package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone name (default UTC)."`
}

var CurrentTimeDefinition = Definition{
	Name:        "current_time",
	Description: "Report the current date and time in RFC3339 format, optionally in a given IANA timezone.",
	InputSchema: CurrentTimeInputSchema,
	Handler:     CurrentTime,
}

var CurrentTimeInputSchema = GenerateSchema[CurrentTimeInput]()

func CurrentTime(ctx context.Context, input json.RawMessage) (any, error) {
	var in CurrentTimeInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
	}

	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}
