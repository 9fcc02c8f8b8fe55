// Package analytics builds the tracker that reports run and iteration events.
package analytics

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker that attaches properties to every event.
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	RunIDKey        = "run_id"
	DialectKey      = "dialect"
	BuildSlugEnvKey = "BITRISE_BUILD_SLUG"
	AppSlugEnvKey   = "BITRISE_APP_SLUG"
	WorkflowEnvKey  = "BITRISE_TRIGGERED_WORKFLOW_ID"
	IsPREnvKey      = "IS_PR"
)

// NewRunTracker returns a tracker tagging every event with the run and the CI context found in repository.
func NewRunTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory, runID, dialect string) analytics.Tracker {
	p := analytics.Properties{
		RunIDKey:      runID,
		DialectKey:    dialect,
		"build_slug":  repository.Get(BuildSlugEnvKey),
		"app_slug":    repository.Get(AppSlugEnvKey),
		"workflow":    repository.Get(WorkflowEnvKey),
		"is_pr_build": repository.Get(IsPREnvKey) == "true",
	}
	return trackerFactory(logger, p)
}

// NewDefaultRunTracker sends events to the default analytics endpoint.
func NewDefaultRunTracker(repository env.Repository, logger log.Logger, runID, dialect string) analytics.Tracker {
	return NewRunTracker(repository, logger, analytics.NewDefaultTracker, runID, dialect)
}

// NoopTracker drops every event. It is used when analytics are disabled.
type NoopTracker struct{}

func (NoopTracker) Enqueue(string, ...analytics.Properties) {}

func (NoopTracker) Wait() {}
