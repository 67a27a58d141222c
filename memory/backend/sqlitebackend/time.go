package sqlitebackend

import "time"

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nowUnix() int64 { return time.Now().Unix() }
