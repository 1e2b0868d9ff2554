package main

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"caster", ModeCaster, false},
		{"Receiver", ModeReceiver, false},
		{" caster ", ModeCaster, false},
		{"viewer", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMode_String(t *testing.T) {
	if ModeCaster.String() != "caster" || ModeReceiver.String() != "receiver" || Mode(5).String() != "mode(5)" {
		t.Error("unexpected mode names")
	}
}
