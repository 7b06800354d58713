package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

func testBundle() ContextBundle {
	return ContextBundle{
		PersonID:         "p_sam",
		PersonName:       "Sam",
		ManualID:         "man_1",
		RelationshipType: store.RoleChild,
		Triggers:         []TriggerSummary{{ID: "t1", Description: "Loud rooms", Severity: store.SeverityModerate}},
		WhatWorks: []StrategySummary{
			{ID: "s1", Description: "Quiet corner", Effectiveness: 3},
			{ID: "s2", Description: "Five minute warning", Effectiveness: 5},
		},
	}
}

func TestHTTPGeneratorPostsBundle(t *testing.T) {
	var received ContextBundle
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"activities":[{"type":"daily-win","suggestedDay":2},{"type":" "},{"type":"gratitude","suggestedDay":9}]}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, "secret", 5*time.Second)
	proposals, err := gen.Generate(context.Background(), testBundle())
	require.NoError(t, err)

	assert.Equal(t, "p_sam", received.PersonID)
	assert.Len(t, received.WhatWorks, 2)
	require.Len(t, proposals, 2)
	assert.Equal(t, "daily-win", proposals[0].Type)
	require.NotNil(t, proposals[0].SuggestedDay)
	assert.Equal(t, 2, *proposals[0].SuggestedDay)
	assert.Nil(t, proposals[1].SuggestedDay)
}

func TestHTTPGeneratorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"activities":[{"type":"emotion-checkin"}]}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, "", 5*time.Second, WithRetryWait(time.Millisecond))
	proposals, err := gen.Generate(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPGeneratorErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      domain.Kind
		retryable bool
	}{
		{"server error", http.StatusServiceUnavailable, `{}`, domain.KindTransient, true},
		{"client error", http.StatusBadRequest, `{"error":"bad bundle"}`, domain.KindGenerationFailed, false},
		{"garbage body", http.StatusOK, `not json`, domain.KindGenerationFailed, false},
		{"no activities", http.StatusOK, `{"activities":[]}`, domain.KindGenerationFailed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			gen := NewHTTPGenerator(srv.URL, "", 5*time.Second, WithRetryWait(time.Millisecond))
			_, err := gen.Generate(context.Background(), testBundle())
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
			assert.Equal(t, tc.retryable, domain.Retryable(err))
		})
	}
}

func TestHTTPGeneratorTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gen := NewHTTPGenerator(srv.URL, "", 5*time.Second, WithRetryWait(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gen.Generate(ctx, testBundle())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestStaticGeneratorIsDeterministic(t *testing.T) {
	bundle := testBundle()
	first, err := StaticGenerator{}.Generate(context.Background(), bundle)
	require.NoError(t, err)
	second, err := StaticGenerator{}.Generate(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 3)
	assert.Equal(t, "calm-down-toolbox", first[0].Type)
	assert.Contains(t, first[0].Description, "Loud rooms")
	assert.Contains(t, first[1].Description, "Five minute warning")
	assert.Contains(t, first[2].Description, "Quiet corner")

	bundle.ActivityCount = 5
	more, err := StaticGenerator{}.Generate(context.Background(), bundle)
	require.NoError(t, err)
	require.Len(t, more, 5)
	assert.Equal(t, "emotion-checkin", more[4].Type)
	for _, p := range more {
		require.NotNil(t, p.SuggestedDay)
		assert.True(t, *p.SuggestedDay >= 0 && *p.SuggestedDay <= 6)
	}
}
