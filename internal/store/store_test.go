package store

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("Expected error without Dir")
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := s.Get("k")
	if err != nil || string(v) != "v" {
		t.Errorf("Get() = %q, %v", v, err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_Records(t *testing.T) {
	s := openTestStore(t)

	type booking struct {
		Service string `msgpack:"service"`
		When    string `msgpack:"when"`
	}
	if err := s.SetRecord("booking:CA1", booking{Service: "haircut", When: "tomorrow"}, time.Hour); err != nil {
		t.Fatalf("SetRecord failed: %v", err)
	}
	var got booking
	if err := s.GetRecord("booking:CA1", &got); err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Service != "haircut" || got.When != "tomorrow" {
		t.Errorf("Unexpected record: %+v", got)
	}
}

func TestStore_Scan(t *testing.T) {
	s := openTestStore(t)

	s.Set("event:2", []byte("b"), 0)
	s.Set("event:1", []byte("a"), 0)
	s.Set("other:1", []byte("x"), 0)

	var keys []string
	err := s.Scan("event:", func(key string, value []byte) error {
		keys = append(keys, key+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "event:1=a" || keys[1] != "event:2=b" {
		t.Errorf("Unexpected scan result: %v", keys)
	}

	stop := errors.New("stop")
	n := 0
	err = s.Scan("event:", func(string, []byte) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("Expected scan to stop after first entry, got n=%d err=%v", n, err)
	}
}

func TestAudioCache(t *testing.T) {
	s := openTestStore(t)
	c := NewAudioCache(s, 0)

	if _, ok, err := c.Load("greeting"); ok || err != nil {
		t.Errorf("Expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Save("greeting", []byte{0xff, 0x7f}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	audio, ok, err := c.Load("greeting")
	if err != nil || !ok || len(audio) != 2 || audio[0] != 0xff {
		t.Errorf("Load() = %v, %v, %v", audio, ok, err)
	}
}

func TestStore_Ping(t *testing.T) {
	s, err := Open(Options{InMemory: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Ping(); err != nil {
		t.Errorf("Expected open store to ping, got %v", err)
	}
	s.Close()
	if err := s.Ping(); err == nil {
		t.Error("Expected closed store to fail ping")
	}
}
