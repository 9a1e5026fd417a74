package repo

import (
	"context"
	"testing"
	"time"
)

func TestIdempotency_CreateGetDuplicateExpiry(t *testing.T) {
	db := newRepoDB(t, allModels...)
	ctx := context.Background()

	if _, err := GetIdempotency(ctx, db, "admin", "broadcast", "  ", time.Now()); !IsNotFound(err) {
		t.Fatalf("blank key should be not found, got %v", err)
	}
	rec, err := CreateIdempotency(ctx, db, "admin", "broadcast", "k1", "b1", 202, time.Hour)
	if err != nil || rec.ResourceID != "b1" {
		t.Fatalf("CreateIdempotency: %+v %v", rec, err)
	}
	if _, err := CreateIdempotency(ctx, db, "admin", "broadcast", "k1", "b2", 202, time.Hour); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := GetIdempotency(ctx, db, "admin", "broadcast", "k1", time.Now())
	if err != nil || got.ResourceID != "b1" {
		t.Fatalf("GetIdempotency: %+v %v", got, err)
	}
	if _, err := GetIdempotency(ctx, db, "admin", "broadcast", "k1", time.Now().Add(2*time.Hour)); !IsNotFound(err) {
		t.Fatalf("expired record should be not found, got %v", err)
	}
}

func TestIdempotency_ExpiredKeyIsReusableAndDelete(t *testing.T) {
	db := newRepoDB(t, allModels...)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "admin", "broadcast", "k1", "old", 202, -time.Minute); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	rec, err := CreateIdempotency(ctx, db, "admin", "broadcast", "k1", "new", 202, time.Hour)
	if err != nil || rec.ResourceID != "new" {
		t.Fatalf("expired key should be reusable: %+v %v", rec, err)
	}

	if err := DeleteIdempotency(ctx, db, "admin", "broadcast", "k1"); err != nil {
		t.Fatalf("DeleteIdempotency: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "admin", "broadcast", "k1", time.Now()); !IsNotFound(err) {
		t.Fatalf("deleted record still found: %v", err)
	}
}
