package httpcache

import (
	"strconv"
	"time"
)

// timer abstracts wall-clock reads so tests can substitute a fixed or
// stepped clock instead of sleeping.
type timer interface {
	now() time.Time
}

type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

var clock timer = realClock{}

// CurrentAge computes an entry's current_age at instant now, following the
// algorithm in RFC 9111 §4.2.3 exactly:
//
//	apparent_age          = max(0, response_time - date_value)
//	response_delay        = response_time - request_time
//	corrected_age_value    = age_value + response_delay
//	corrected_initial_age = max(apparent_age, corrected_age_value)
//	resident_time         = now - response_time
//	current_age           = corrected_initial_age + resident_time
//
// request_time and response_time come from the entry's own recorded
// instants rather than from synthetic headers, since the storage model
// carries them as first-class fields (§3.1).
func CurrentAge(e *Entry, now time.Time) time.Duration {
	dateValue := e.Date()
	responseTime := e.ResponseInstant
	requestTime := e.RequestInstant

	apparentAge := responseTime.Sub(dateValue)
	if apparentAge < 0 {
		apparentAge = 0
	}

	ageValue := parseAgeSeconds(e.Headers)
	responseDelay := responseTime.Sub(requestTime)
	if responseDelay < 0 {
		responseDelay = 0
	}
	correctedAgeValue := ageValue + responseDelay

	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := now.Sub(responseTime)
	if residentTime < 0 {
		residentTime = 0
	}

	return correctedInitialAge + residentTime
}

// FormatAge renders a duration as an Age header's non-negative integer
// second count (§5.1), truncating any sub-second remainder.
func FormatAge(age time.Duration) string {
	seconds := int64(age.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatInt(seconds, 10)
}
