package connection

import "strconv"

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUint64(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
