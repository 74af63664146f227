package backlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadKind(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		want    Kind
	}{
		{"create", Payload{CreateProfile: &CreateProfilePayload{}}, KindCreate},
		{"update", Payload{UpdateProfile: &UpdateProfilePayload{}}, KindUpdate},
		{"block", Payload{BlockProfile: &BlockProfilePayload{}}, KindDelete},
		{"org create", Payload{CreateOrg: &CreateOrgPayload{}}, KindOrgCreate},
		{"org update", Payload{UpdateOrg: &UpdateOrgPayload{}}, KindOrgUpdate},
		{"org delete", Payload{DeleteOrg: &DeleteOrgPayload{}}, KindOrgDelete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := tc.payload.Kind()
			require.NoError(t, err)
			require.Equal(t, tc.want, kind)
		})
	}
}

func TestPayloadKindRejectsEmpty(t *testing.T) {
	_, err := Payload{}.Kind()
	require.ErrorIs(t, err, ErrAmbiguousPayload)
}

func TestPayloadKindRejectsMultiple(t *testing.T) {
	p := Payload{
		CreateProfile: &CreateProfilePayload{},
		BlockProfile:  &BlockProfilePayload{},
	}
	_, err := p.Kind()
	require.ErrorIs(t, err, ErrAmbiguousPayload)
}
