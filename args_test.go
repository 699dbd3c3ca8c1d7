package strio

import (
	"errors"
	"testing"
)

func TestArgValue(t *testing.T) {
	tests := []struct {
		arg, key string
		want     string
		ok       bool
	}{
		{"readbuf=1024", "readbuf", "1024", true},
		{"READBUF=2048", "readbuf", "2048", true},
		{"readbuf", "readbuf", "", false},
		{"readbufx=1", "readbuf", "", false},
		{"laddr=127.0.0.1:0", "laddr", "127.0.0.1:0", true},
	}
	for _, tt := range tests {
		got, ok := ArgValue(tt.arg, tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ArgValue(%q, %q) = %q, %v; want %q, %v",
				tt.arg, tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestArgBool(t *testing.T) {
	tests := []struct {
		arg     string
		val, ok bool
		wantErr bool
	}{
		{"nodelay", true, true, false},
		{"NoDelay", true, true, false},
		{"nodelay=true", true, true, false},
		{"nodelay=false", false, true, false},
		{"nodelay=1", true, true, false},
		{"nodelay=0", false, true, false},
		{"nodelay=yes", true, true, false},
		{"nodelay=off", false, true, false},
		{"nodelay=maybe", false, true, true},
		{"other", false, false, false},
	}
	for _, tt := range tests {
		val, ok, err := ArgBool(tt.arg, "nodelay")
		if ok != tt.ok {
			t.Errorf("ArgBool(%q): ok = %v, want %v", tt.arg, ok, tt.ok)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ArgBool(%q): err = %v, want ErrInvalidArgument", tt.arg, err)
			}
			continue
		}
		if err != nil || val != tt.val {
			t.Errorf("ArgBool(%q) = %v, %v; want %v", tt.arg, val, err, tt.val)
		}
	}
}

func TestArgSize(t *testing.T) {
	if v, ok, err := ArgSize("readbuf=4096", "readbuf"); !ok || err != nil || v != 4096 {
		t.Errorf("ArgSize(readbuf=4096) = %d, %v, %v", v, ok, err)
	}
	if v, ok, err := ArgSize("readbuf=0x100", "readbuf"); !ok || err != nil || v != 256 {
		t.Errorf("ArgSize(readbuf=0x100) = %d, %v, %v", v, ok, err)
	}
	if _, ok, err := ArgSize("readbuf=big", "readbuf"); !ok || !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ArgSize(readbuf=big): ok = %v, err = %v", ok, err)
	}
	if _, ok, _ := ArgSize("nodelay", "readbuf"); ok {
		t.Errorf("ArgSize matched the wrong key")
	}
}
