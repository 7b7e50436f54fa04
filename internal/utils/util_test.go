package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMd(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text untouched", in: "hello world", want: "hello world"},
		{name: "asterisks", in: "a*b*c", want: "a\\*b\\*c"},
		{name: "underscores", in: "snake_case_title", want: "snake\\_case\\_title"},
		{name: "backticks and tildes", in: "`code` ~strike~", want: "\\`code\\` \\~strike\\~"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeMd(tt.in))
		})
	}
}

func TestPrettyTime(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{sec: 0, want: "0:00"},
		{sec: 59, want: "0:59"},
		{sec: 61, want: "1:01"},
		{sec: 3599, want: "59:59"},
		{sec: 3600, want: "1:00:00"},
		{sec: 3723, want: "1:02:03"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, PrettyTime(tt.sec))
		})
	}
}
