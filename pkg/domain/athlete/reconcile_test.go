package athlete

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridetally/server/pkg/types"
)

func roster() []*types.Athlete {
	return []*types.Athlete{
		{ID: "1001", FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"},
		{ID: "placeholder_a", FirstName: "Bala", LastName: "Krishnan", Email: "BALA@Example.com", Placeholder: true, Category: "150"},
		{ID: "placeholder_b", FirstName: "Chitra", LastName: "Devi", Placeholder: true},
		{ID: "placeholder_c", FirstName: "chitra", LastName: "devi", Placeholder: true},
		{ID: "1002", FirstName: "Dev", LastName: "Nair"},
		{ID: "placeholder_d", FirstName: "Ezhil", LastName: "Arasu", Placeholder: true},
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		in        Identity
		wantRule  MatchRule
		wantID    string
		ambiguous bool
	}{
		{
			name:     "id wins over everything",
			in:       Identity{ID: "1001", Email: "bala@example.com", FirstName: "Ezhil", LastName: "Arasu"},
			wantRule: MatchID,
			wantID:   "1001",
		},
		{
			name:     "email is case insensitive",
			in:       Identity{ID: "2001", Email: "bala@EXAMPLE.com"},
			wantRule: MatchEmail,
			wantID:   "placeholder_a",
		},
		{
			name:     "name matches placeholders only",
			in:       Identity{ID: "2002", FirstName: "EZHIL", LastName: " Arasu "},
			wantRule: MatchName,
			wantID:   "placeholder_d",
		},
		{
			name:     "name of a linked account does not match",
			in:       Identity{ID: "2003", FirstName: "Dev", LastName: "Nair"},
			wantRule: MatchNone,
		},
		{
			name:      "duplicate placeholder names are ambiguous",
			in:        Identity{ID: "2004", FirstName: "Chitra", LastName: "Devi"},
			ambiguous: true,
		},
		{
			name:      "email owned by another linked account",
			in:        Identity{ID: "2005", Email: "asha@example.com"},
			ambiguous: true,
		},
		{
			name:     "no match",
			in:       Identity{ID: "2006", FirstName: "New", LastName: "Runner"},
			wantRule: MatchNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Reconcile(roster(), tt.in)
			if tt.ambiguous {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrAmbiguousMatch))
				var amb *AmbiguousMatchError
				require.ErrorAs(t, err, &amb)
				assert.NotEmpty(t, amb.Candidates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRule, m.Rule)
			if tt.wantID == "" {
				assert.Nil(t, m.Athlete)
			} else {
				require.NotNil(t, m.Athlete)
				assert.Equal(t, tt.wantID, m.Athlete.ID)
			}
		})
	}
}
