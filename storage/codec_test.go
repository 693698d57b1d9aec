package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskboard/domain"
)

func sampleTask() domain.Task {
	updated := time.Date(2025, 1, 3, 9, 30, 0, 0, time.UTC)
	return domain.Task{
		ID:          "t1",
		Title:       "Ship it",
		Description: "<p>soon</p>",
		Category:    domain.CategoryPersonal,
		Status:      domain.StatusInProgress,
		DueDate:     time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:   &updated,
		Activity:    []domain.ActivityEntry{domain.CreatedActivity("u1", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))},
	}
}

func assertSameTask(t *testing.T, got, want domain.Task) {
	t.Helper()
	if got.ID != want.ID || got.Title != want.Title || got.Description != want.Description ||
		got.Category != want.Category || got.Status != want.Status {
		t.Fatalf("fields differ: got %#v want %#v", got, want)
	}
	if !got.DueDate.Equal(want.DueDate) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("dates differ: got %#v want %#v", got, want)
	}
	if got.UpdatedAt == nil || !got.UpdatedAt.Equal(*want.UpdatedAt) {
		t.Fatalf("updatedAt differs: got %v", got.UpdatedAt)
	}
	if len(got.Activity) != len(want.Activity) || got.Activity[0].Type != want.Activity[0].Type {
		t.Fatalf("activity differs: got %#v", got.Activity)
	}
}

func TestTaskEntityRoundTrip(t *testing.T) {
	want := sampleTask()
	ent, err := newTaskEntity("u1", want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if ent.PartitionKey != "u1" || ent.RowKey != "t1" {
		t.Fatalf("unexpected keys: %#v", ent.entityKeys)
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertSameTask(t, got, want)
}

func TestDecodeTaskEntityRejectsBadDates(t *testing.T) {
	if _, err := decodeTaskEntity([]byte(`{"RowKey":"t1","DueDate":"tomorrow","CreatedAt":"2025-01-01T00:00:00.000Z"}`)); err == nil {
		t.Fatalf("expected error for malformed due date")
	}
}

func TestPartitionFilterEscapesQuotes(t *testing.T) {
	if got := partitionFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter: %s", got)
	}
}

func TestMapStoreErrors(t *testing.T) {
	tests := []struct {
		name     string
		mapFn    func(error) error
		err      error
		notFound bool
	}{
		{"tables 404", mapTablesError, fmt.Errorf("get: %w", &azcore.ResponseError{StatusCode: 404}), true},
		{"tables 500", mapTablesError, &azcore.ResponseError{StatusCode: 500}, false},
		{"firestore not found", mapFirestoreError, status.Error(codes.NotFound, "no document"), true},
		{"firestore unavailable", mapFirestoreError, status.Error(codes.Unavailable, "down"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.mapFn(tt.err)
			if errors.Is(got, domain.ErrTaskNotFound) != tt.notFound {
				t.Fatalf("unexpected mapping for %v: %v", tt.err, got)
			}
			if IsNotFound(got) != tt.notFound {
				t.Fatalf("IsNotFound disagrees for %v", got)
			}
		})
	}
}

func TestTaskDocRoundTrip(t *testing.T) {
	want := sampleTask()
	got, err := toTaskDoc(want).task(want.ID)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertSameTask(t, got, want)
}

func TestFieldUpdatesAppendActivity(t *testing.T) {
	fields := sampleTask().Fields()
	plain := fieldUpdates(fields, nil)
	for _, u := range plain {
		if u.Path == "activity" {
			t.Fatalf("unexpected activity update without entries")
		}
	}

	withActivity := fieldUpdates(fields, []domain.ActivityEntry{{Type: domain.ActivityStatusChanged, Message: "moved"}})
	last := withActivity[len(withActivity)-1]
	if last.Path != "activity" {
		t.Fatalf("expected trailing activity update, got %q", last.Path)
	}
	if len(withActivity) != len(plain)+1 {
		t.Fatalf("expected exactly one extra update, got %d vs %d", len(withActivity), len(plain))
	}
}

func TestUserFromClaims(t *testing.T) {
	u := userFromClaims("uid-1", map[string]interface{}{"email": "a@b.c", "name": "Ada", "admin": true})
	if u.ID != "uid-1" || u.Email != "a@b.c" || u.Name != "Ada" {
		t.Fatalf("unexpected user: %#v", u)
	}
	if u := userFromClaims("uid-2", nil); u.ID != "uid-2" || u.Email != "" {
		t.Fatalf("unexpected user from nil claims: %#v", u)
	}
}
