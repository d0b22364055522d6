package graph

import (
	"slices"
	"testing"
)

func TestDefaultChords(t *testing.T) {
	table := DefaultChords()
	want := []string{"Major", "Minor", "Dom7", "Dim7", RootMode}
	if got := table.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	m, ok := table.Lookup("Dom7")
	if !ok || !slices.Equal(m.Offsets, []float64{0, 400, 700, 1000}) {
		t.Fatalf("Lookup(Dom7) = %v, %v", m, ok)
	}
	if _, ok := table.Lookup("major"); ok {
		t.Fatal("Lookup is case-insensitive, want exact names")
	}
}

func TestChordTableRegister(t *testing.T) {
	tests := []struct {
		name    string
		mode    ChordMode
		wantErr bool
	}{
		{name: "new mode", mode: ChordMode{Name: "Sus4", Offsets: []float64{0, 500, 700}}},
		{name: "duplicate", mode: ChordMode{Name: "Major", Offsets: []float64{0, 400, 700}}, wantErr: true},
		{name: "empty name", mode: ChordMode{Offsets: []float64{0}}, wantErr: true},
		{name: "no offsets", mode: ChordMode{Name: "Nothing"}, wantErr: true},
		{name: "root not zero", mode: ChordMode{Name: "Up", Offsets: []float64{100, 500}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := DefaultChords()
			err := table.Register(tt.mode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	table := DefaultChords()
	m, _ := table.Lookup("Major")
	m.Offsets[1] = 0
	again, _ := table.Lookup("Major")
	if again.Offsets[1] != 400 {
		t.Fatalf("table modified through Lookup result: %v", again.Offsets)
	}
}
