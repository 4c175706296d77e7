package postgres

import (
	"testing"

	"github.com/dephealth/watchtower"
)

func TestDeriveReason(t *testing.T) {
	tt := []struct {
		Name   string
		Check  string
		Status watchtower.CheckStatus
		Reason string
		Want   any
	}{
		{
			Name:   "PassNoReason",
			Check:  "registry",
			Status: watchtower.CheckPass,
			Want:   nil,
		},
		{
			Name:   "ExplicitReasonKept",
			Check:  "entropy",
			Status: watchtower.CheckFail,
			Reason: "file \"a.js\" has entropy 6.50",
			Want:   "file \"a.js\" has entropy 6.50",
		},
		{
			Name:   "FailDefaulted",
			Check:  "registry",
			Status: watchtower.CheckFail,
			Want:   "registry check reported fail",
		},
		{
			Name:   "WarningDefaulted",
			Check:  "install scripts",
			Status: watchtower.CheckWarning,
			Want:   "install scripts check reported warning",
		},
		{
			Name:  "ZeroStatus",
			Check: "entropy",
			Want:  nil,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := deriveReason(tc.Check, tc.Status, tc.Reason); got != tc.Want {
				t.Errorf("got: %v, want: %v", got, tc.Want)
			}
		})
	}
}
