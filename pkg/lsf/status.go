package lsf

// Status is the closed vocabulary a scheduler job is classified into.
type Status string

const (
	StatusRunning              Status = "Running"
	StatusComplete             Status = "Complete"
	StatusWalltimed            Status = "Walltimed"
	StatusKilled               Status = "Killed"
	StatusSuspPersonDispatched Status = "Susp_person_dispatched"
	StatusSuspPersonPending    Status = "Susp_person_pending"
	StatusSuspSystem           Status = "Susp_system"
	StatusEligible             Status = "Eligible"
	StatusBlocked              Status = "Blocked"
	StatusUnknown              Status = "Unknown"
)

// AllStatuses lists every Status in classification order.
func AllStatuses() []Status {
	return []Status{
		StatusRunning,
		StatusComplete,
		StatusWalltimed,
		StatusKilled,
		StatusSuspPersonDispatched,
		StatusSuspPersonPending,
		StatusSuspSystem,
		StatusEligible,
		StatusBlocked,
		StatusUnknown,
	}
}

// IsTerminal reports whether a job in this state will never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusWalltimed, StatusKilled:
		return true
	default:
		return false
	}
}

// IsSuspended reports whether the job is held by a person or the system.
func (s Status) IsSuspended() bool {
	switch s {
	case StatusSuspPersonDispatched, StatusSuspPersonPending, StatusSuspSystem:
		return true
	default:
		return false
	}
}

// StatFlag mirrors the LSF JOB_STAT_* bit set.
type StatFlag uint32

const (
	StatPend    StatFlag = 0x01
	StatPSusp   StatFlag = 0x02
	StatRun     StatFlag = 0x04
	StatSSusp   StatFlag = 0x08
	StatUSusp   StatFlag = 0x10
	StatExit    StatFlag = 0x20
	StatDone    StatFlag = 0x40
	StatPDone   StatFlag = 0x80
	StatPErr    StatFlag = 0x100
	StatWait    StatFlag = 0x200
	StatUnknown StatFlag = 0x10000
)

// statNames maps the STAT column printed by bjobs to flags.
var statNames = map[string]StatFlag{
	"PEND":  StatPend,
	"PSUSP": StatPSusp,
	"RUN":   StatRun,
	"SSUSP": StatSSusp,
	"USUSP": StatUSusp,
	"EXIT":  StatExit,
	"DONE":  StatDone,
	"WAIT":  StatWait,
	"UNKWN": StatUnknown,
	"ZOMBI": StatUnknown,
}

// ParseStat converts a bjobs STAT value into flags. Unrecognized values map
// to StatUnknown.
func ParseStat(s string) StatFlag {
	if f, ok := statNames[s]; ok {
		return f
	}

	return StatUnknown
}

// RawJob is a scheduler record before classification. ExitCode is the raw
// value reported by the scheduler, which may still carry signal bits.
type RawJob struct {
	ID           int
	Name         string
	User         string
	Queue        string
	Stat         StatFlag
	ExitCode     int
	PendEligible bool
}

// walltimeExitCode is the exit code LSF uses when a run limit is reached.
const walltimeExitCode = 140

// Classify maps raw scheduler flags to a Status. The first matching flag
// wins in the order RUN, DONE, EXIT, USUSP, PSUSP, SSUSP, PEND.
func Classify(j RawJob) Status {
	switch {
	case j.Stat&StatRun != 0:
		return StatusRunning
	case j.Stat&StatDone != 0:
		return StatusComplete
	case j.Stat&StatExit != 0:
		if j.ExitCode%256 == walltimeExitCode {
			return StatusWalltimed
		}

		return StatusKilled
	case j.Stat&StatUSusp != 0:
		return StatusSuspPersonDispatched
	case j.Stat&StatPSusp != 0:
		return StatusSuspPersonPending
	case j.Stat&StatSSusp != 0:
		return StatusSuspSystem
	case j.Stat&StatPend != 0:
		if j.PendEligible {
			return StatusEligible
		}

		return StatusBlocked
	default:
		return StatusUnknown
	}
}
