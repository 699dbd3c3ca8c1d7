package strio

import (
	"fmt"
	"strconv"
	"strings"
)

// Endpoint constructors take a vector of "key=value" or bare-key strings.
// Parsing is strict: a constructor walks its vector with the helpers below
// and fails with ErrInvalidArgument on the first entry no helper claims.

// ArgValue matches arg against "key=value" and returns the value.
func ArgValue(arg, key string) (string, bool) {
	if len(arg) > len(key) && strings.EqualFold(arg[:len(key)], key) && arg[len(key)] == '=' {
		return arg[len(key)+1:], true
	}
	return "", false
}

// ArgBool matches arg against a boolean key. A bare key means true;
// otherwise the value must be yes/no or on/off (any case), or a form
// strconv.ParseBool accepts (true/false, 1/0, t/f, TRUE/FALSE, ...).
func ArgBool(arg, key string) (val, ok bool, err error) {
	if strings.EqualFold(arg, key) {
		return true, true, nil
	}
	s, ok := ArgValue(arg, key)
	if !ok {
		return false, false, nil
	}
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, true, nil
	case "no", "off":
		return false, true, nil
	}
	v, perr := strconv.ParseBool(s)
	if perr != nil {
		return false, true, fmt.Errorf("%w: bad boolean %q for %q", ErrInvalidArgument, s, key)
	}
	return v, true, nil
}

// ArgSize matches arg against a size-valued key. The value is an unsigned
// integer in any base strconv accepts with base 0.
func ArgSize(arg, key string) (val uint64, ok bool, err error) {
	s, ok := ArgValue(arg, key)
	if !ok {
		return 0, false, nil
	}
	v, perr := strconv.ParseUint(s, 0, 64)
	if perr != nil {
		return 0, true, fmt.Errorf("%w: bad size %q for %q", ErrInvalidArgument, s, key)
	}
	return v, true, nil
}
