package courier

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		wantErr   error
		errString string
	}{
		{
			name:    "valid subject",
			subject: "Hello World",
			wantErr: nil,
		},
		{
			name:    "valid subject with newline",
			subject: "Hello\nWorld",
			wantErr: nil,
		},
		{
			name:    "empty subject",
			subject: "",
			wantErr: ErrEmptySubject,
		},
		{
			name:    "whitespace only subject",
			subject: "   \t\n  ",
			wantErr: ErrEmptySubject,
		},
		{
			name:      "subject with control character",
			subject:   "Hello\x00World",
			wantErr:   ErrInvalidContent,
			errString: "control character",
		},
		{
			name:    "subject at max length",
			subject: strings.Repeat("a", DefaultMaxSubjectLength),
			wantErr: nil,
		},
		{
			name:    "subject exceeds max length",
			subject: strings.Repeat("a", DefaultMaxSubjectLength+1),
			wantErr: ErrSubjectTooLong,
		},
		{
			// The limit counts characters, not bytes.
			name:    "multibyte subject at max length",
			subject: strings.Repeat("é", DefaultMaxSubjectLength),
			wantErr: nil,
		},
		{
			name:    "invalid utf-8",
			subject: "Hello \xff World",
			wantErr: ErrInvalidContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubject(tt.subject)
			if tt.wantErr != nil {
				if err == nil {
					t.Errorf("expected error %v, got nil", tt.wantErr)
					return
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected error %v, got %v", tt.wantErr, err)
				}
				if tt.errString != "" && !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("expected error to contain %q, got %q", tt.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSubjectWithLimits(t *testing.T) {
	limits := MessageLimits{
		MaxSubjectLength: 10,
	}

	t.Run("subject within custom limit", func(t *testing.T) {
		if err := ValidateSubjectWithLimits("Hello", limits); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("subject exceeds custom limit", func(t *testing.T) {
		err := ValidateSubjectWithLimits("Hello World!", limits)
		if !errors.Is(err, ErrSubjectTooLong) {
			t.Errorf("expected ErrSubjectTooLong, got %v", err)
		}
	})
}

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   error
		errString string
	}{
		{
			name:    "valid body",
			body:    "This is a valid message body.",
			wantErr: nil,
		},
		{
			name:    "empty body is valid",
			body:    "",
			wantErr: nil,
		},
		{
			name:    "body with unicode",
			body:    "Hello 世界! 🎉",
			wantErr: nil,
		},
		{
			name:      "body with null bytes",
			body:      "Hello\x00World",
			wantErr:   ErrInvalidContent,
			errString: "null bytes",
		},
		{
			name:    "body exceeds max size",
			body:    strings.Repeat("a", DefaultMaxBodySize+1),
			wantErr: ErrBodyTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBody(tt.body)
			if tt.wantErr != nil {
				if err == nil {
					t.Errorf("expected error %v, got nil", tt.wantErr)
					return
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected error %v, got %v", tt.wantErr, err)
				}
				if tt.errString != "" && !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("expected error to contain %q, got %q", tt.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRecipients(t *testing.T) {
	limits := DefaultLimits()

	t.Run("valid list", func(t *testing.T) {
		if err := ValidateRecipients([]string{"a@x.com", "b@x.com"}, limits); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("empty list is allowed", func(t *testing.T) {
		// Send reports an empty list as a delivery failure, not a
		// validation error.
		if err := ValidateRecipients(nil, limits); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("blank address", func(t *testing.T) {
		err := ValidateRecipients([]string{"a@x.com", "   "}, limits)
		if !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("too many recipients", func(t *testing.T) {
		emails := make([]string, limits.MaxRecipientCount+1)
		for i := range emails {
			emails[i] = "user@x.com"
		}
		err := ValidateRecipients(emails, limits)
		if !errors.Is(err, ErrTooManyRecipients) {
			t.Errorf("expected ErrTooManyRecipients, got %v", err)
		}
	})
}

func TestValidateSend(t *testing.T) {
	limits := DefaultLimits()

	t.Run("valid", func(t *testing.T) {
		if err := ValidateSend("hi", "body", []string{"a@x.com"}, limits); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("recipient error takes precedence", func(t *testing.T) {
		err := ValidateSend("", "body", []string{""}, limits)
		if !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("subject checked after recipients", func(t *testing.T) {
		err := ValidateSend("", "body", []string{"a@x.com"}, limits)
		if !errors.Is(err, ErrEmptySubject) {
			t.Errorf("expected ErrEmptySubject, got %v", err)
		}
	})
}
