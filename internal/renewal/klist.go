package renewal

import (
	"fmt"
	"regexp"
	"time"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// klist's krbtgt line, followed somewhere later by "renew until", e.g.:
//
//	Valid starting       Expires              Service principal
//	12/04/2023 19:39:06  12/05/2023 05:39:06  krbtgt/CONTOSO.COM@CONTOSO.COM
//		renew until 12/11/2023 19:39:04
var (
	krbtgtFourDigitYear = regexp.MustCompile(
		`(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2})\s+(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2})\s+krbtgt/\S+[\s\S]*?renew until\s+(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2})`)
	krbtgtTwoDigitYear = regexp.MustCompile(
		`(\d{2}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})\s+(\d{2}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})\s+krbtgt/\S+[\s\S]*?renew until\s+(\d{2}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)
)

const (
	fourDigitLayout = "01/02/2006 15:04:05"
	twoDigitLayout  = "01/02/06 15:04:05"
)

// TicketStatus is the parsed krbtgt line of a klist invocation.
type TicketStatus struct {
	ValidStart time.Time
	Expires    time.Time
	RenewUntil time.Time
}

// ParseKlist parses klist output for the krbtgt ticket's validity window and
// renewal deadline, trying the four-digit-year pattern first and falling
// back to the two-digit-year pattern. Returns ErrParseFailure if neither
// matches.
func ParseKlist(output string) (*TicketStatus, error) {
	if m := krbtgtFourDigitYear.FindStringSubmatch(output); m != nil {
		return parseMatch(m, fourDigitLayout)
	}
	if m := krbtgtTwoDigitYear.FindStringSubmatch(output); m != nil {
		return parseMatch(m, twoDigitLayout)
	}
	return nil, fmt.Errorf("%w: klist output did not match either krbtgt pattern", cferrors.ErrParseFailure)
}

func parseMatch(m []string, layout string) (*TicketStatus, error) {
	validStart, err := time.ParseInLocation(layout, m[1], time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing valid-starting time %q: %v", cferrors.ErrParseFailure, m[1], err)
	}
	expires, err := time.ParseInLocation(layout, m[2], time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing expires time %q: %v", cferrors.ErrParseFailure, m[2], err)
	}
	renewUntil, err := time.ParseInLocation(layout, m[3], time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing renew-until time %q: %v", cferrors.ErrParseFailure, m[3], err)
	}
	return &TicketStatus{ValidStart: validStart, Expires: expires, RenewUntil: renewUntil}, nil
}

// HoursUntilRenewalDeadline reports how many hours remain until now until
// the ticket's renew-until deadline (negative once past it).
func (t *TicketStatus) HoursUntilRenewalDeadline(now time.Time) float64 {
	return t.RenewUntil.Sub(now).Hours()
}
