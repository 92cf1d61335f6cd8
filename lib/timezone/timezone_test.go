package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartOfDay(t *testing.T) {
	cases := []struct {
		in     time.Time
		expect time.Time
	}{
		{
			in:     time.Date(2025, time.March, 17, 23, 59, 4, 12, Location),
			expect: time.Date(2025, time.March, 17, 0, 0, 0, 0, Location),
		},
		{
			in:     time.Date(2025, time.March, 17, 0, 0, 0, 0, Location),
			expect: time.Date(2025, time.March, 17, 0, 0, 0, 0, Location),
		},
		{
			// 6am UTC on the 18th is still the 17th in LA
			in:     time.Date(2025, time.March, 18, 6, 0, 0, 0, time.UTC),
			expect: time.Date(2025, time.March, 17, 0, 0, 0, 0, Location),
		},
	}

	for _, test := range cases {
		require.Equal(t, test.expect, StartOfDay(test.in))
	}
}

func TestSet(t *testing.T) {
	original := Location
	defer func() { Location = original }()

	err := Set("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "America/New_York", Location.String())
	require.Equal(t, "America/New_York", Now().Location().String())

	require.Error(t, Set("Not/AZone"))
}
