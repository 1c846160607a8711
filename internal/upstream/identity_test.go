package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	defaults := IdentityDefaults{StudentID: 4477, ClassID: 1000}

	tests := []struct {
		name    string
		cookies string
		want    int64
	}{
		{name: "encoded id", cookies: "PHPSESSID=abc; ys-userId=n%3A5521", want: 5521},
		{name: "plain id", cookies: "ys-userId=n:77", want: 77},
		{name: "trailing garbage", cookies: "ys-userId=n%3A12ab; other=1", want: 12},
		{name: "missing cookie", cookies: "PHPSESSID=abc", want: 4477},
		{name: "no label", cookies: "ys-userId=5521", want: 4477},
		{name: "non numeric", cookies: "ys-userId=n%3Aabc", want: 4477},
		{name: "zero id", cookies: "ys-userId=n%3A0", want: 4477},
		{name: "bad escape", cookies: "ys-userId=n%zz", want: 4477},
		{name: "empty", cookies: "", want: 4477},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id := ResolveIdentity("ivanov", tc.cookies, defaults)
			require.Equal(t, tc.want, id.StudentID)
			require.EqualValues(t, 1000, id.ClassID)
			require.Equal(t, "ivanov", id.FullName)
			require.Equal(t, "ivanov", id.Login)
		})
	}
}

func TestOverlayIgnoresUnusableFields(t *testing.T) {
	base := Identity{Login: "ivanov", StudentID: 4477, ClassID: 1000, FullName: "ivanov"}

	require.Equal(t, base, base.Overlay(nil))
	require.Equal(t, base, base.Overlay(map[string]any{
		"studentId": "n/a",
		"classId":   -3,
		"fullName":  "  ",
	}))

	got := base.Overlay(map[string]any{"classId": float64(1205)})
	require.EqualValues(t, 1205, got.ClassID)
	require.EqualValues(t, 4477, got.StudentID)
}
