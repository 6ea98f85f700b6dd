package server

import (
	"time"

	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
)

type eligibilityView struct {
	ParticipantID  string  `json:"participant_id"`
	Wallet         string  `json:"wallet"`
	Chain          string  `json:"chain"`
	Tier           int     `json:"tier"`
	Verified       bool    `json:"verified"`
	Balance        float64 `json:"balance"`
	TasksCompleted bool    `json:"tasks_completed"`
}

func eligibilityResponse(rec eligibility.Record) eligibilityView {
	return eligibilityView{
		ParticipantID:  rec.ParticipantID,
		Wallet:         rec.Wallet,
		Chain:          string(rec.Chain),
		Tier:           rec.Tier,
		Verified:       rec.Verified,
		Balance:        rec.Balance,
		TasksCompleted: rec.TasksCompleted,
	}
}

type recordView struct {
	ParticipantID string     `json:"participant_id"`
	Wallet        string     `json:"wallet"`
	Chain         string     `json:"chain"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	TxRef         string     `json:"tx_ref,omitempty"`
	VestingEnd    *time.Time `json:"vesting_end,omitempty"`
	FailReason    string     `json:"fail_reason,omitempty"`
}

func recordResponse(rec ledger.Record) recordView {
	view := recordView{
		ParticipantID: rec.ParticipantID,
		Wallet:        rec.Wallet,
		Chain:         string(rec.Chain),
		Amount:        rec.Amount,
		Status:        string(rec.Status),
		TxRef:         rec.TxRef,
		FailReason:    rec.FailReason,
	}
	if !rec.VestingEnd.IsZero() {
		end := rec.VestingEnd
		view.VestingEnd = &end
	}
	return view
}
