package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// runStoreSuite exercises the credential and filter contract against any backend
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("PutReplacesBlob", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Put(ctx, &domain.Credential{Owner: 1, Phone: "+1", Blob: "old"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := s.Put(ctx, &domain.Credential{Owner: 1, Phone: "+1", Blob: "new"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		n, err := s.CountByOwner(ctx, 1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 credential, got %d", n)
		}
		got, err := s.Get(ctx, 1, "+1")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got == nil || got.Blob != "new" {
			t.Errorf("Expected blob 'new', got %+v", got)
		}
	})

	t.Run("GetMissingIsNil", func(t *testing.T) {
		s := open(t)
		got, err := s.Get(context.Background(), 1, "+404")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil, got %+v", got)
		}
	})

	t.Run("ListInCreationOrder", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, p := range []string{"+3", "+1", "+2"} {
			if err := s.Put(ctx, &domain.Credential{Owner: 7, Phone: p, Blob: "b"}); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
		_ = s.Put(ctx, &domain.Credential{Owner: 8, Phone: "+9", Blob: "b"})

		list, err := s.ListByOwner(ctx, 7)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("Expected 3 credentials, got %d", len(list))
		}
		for i, want := range []string{"+3", "+1", "+2"} {
			if list[i].Phone != want || list[i].Owner != 7 {
				t.Errorf("Position %d: expected %s, got %+v", i, want, list[i])
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		_ = s.Put(ctx, &domain.Credential{Owner: 1, Phone: "+1", Blob: "b"})

		ok, err := s.Delete(ctx, 1, "+1")
		if err != nil || !ok {
			t.Errorf("Expected delete to report a row, got %v %v", ok, err)
		}
		ok, err = s.Delete(ctx, 1, "+1")
		if err != nil || ok {
			t.Errorf("Expected second delete to report nothing, got %v %v", ok, err)
		}
	})

	t.Run("PutWithinQuota", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, p := range []string{"+1", "+2"} {
			if err := s.PutWithinQuota(ctx, &domain.Credential{Owner: 1, Phone: p, Blob: "b"}, 2); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}

		err := s.PutWithinQuota(ctx, &domain.Credential{Owner: 1, Phone: "+3", Blob: "b"}, 2)
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Errorf("Expected quota exceeded, got %v", err)
		}
		// replacing an existing phone does not count against the quota
		if err := s.PutWithinQuota(ctx, &domain.Credential{Owner: 1, Phone: "+2", Blob: "fresh"}, 2); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if err := s.PutWithinQuota(ctx, &domain.Credential{Owner: 2, Phone: "+3", Blob: "b"}, 2); err != nil {
			t.Errorf("Expected other owner unaffected, got %v", err)
		}
	})

	t.Run("PutWithinQuotaConcurrent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.PutWithinQuota(ctx, &domain.Credential{Owner: 5, Phone: fmt.Sprintf("+%d", 100+i), Blob: "b"}, 3)
			}(i)
		}
		wg.Wait()

		n, err := s.CountByOwner(ctx, 5)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if n != 3 {
			t.Errorf("Expected exactly 3 credentials, got %d", n)
		}
	})

	t.Run("Filters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ref := domain.CredentialRef{Owner: 1, Phone: "+1"}
		other := domain.CredentialRef{Owner: 1, Phone: "+2"}

		for _, f := range []*domain.Filter{
			{Owner: 1, Phone: "+1", Kind: domain.FilterKeyword, Value: "a"},
			{Owner: 1, Phone: "+1", Kind: domain.FilterRegex, Value: "^urgent"},
			{Owner: 1, Phone: "+2", Kind: domain.FilterAll},
		} {
			if err := s.Add(ctx, f); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if f.ID == 0 {
				t.Error("Expected ID to be set")
			}
		}

		list, err := s.List(ctx, ref)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(list) != 2 || list[0].Kind != domain.FilterKeyword || list[1].Value != "^urgent" {
			t.Errorf("Unexpected filters: %+v", list)
		}

		n, err := s.DeleteByCredential(ctx, ref)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 deleted, got %d", n)
		}
		if rest, _ := s.List(ctx, other); len(rest) != 1 {
			t.Errorf("Expected other credential's filter kept, got %d", len(rest))
		}
	})
}
