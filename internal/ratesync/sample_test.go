package ratesync

import (
	"reflect"
	"testing"
)

func TestSampleBlocks(t *testing.T) {
	got, err := SampleBlocks(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint64{101, 103, 105}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("blocks mismatch: %v != %v", got, want)
	}
}

func TestSampleBlocksShortTail(t *testing.T) {
	got, err := SampleBlocks(1, 10, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint64{4, 8, 10}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("blocks mismatch: %v != %v", got, want)
	}
}

func TestSampleBlocksSingle(t *testing.T) {
	got, err := SampleBlocks(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(got, []uint64{5}) {
		t.Fatalf("blocks mismatch: %v", got)
	}
}

func TestSampleBlocksInvalid(t *testing.T) {
	if _, err := SampleBlocks(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SampleBlocks(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero step")
	}
}
