package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseParams converts command-line literals into statement parameters.
// A literal is null, a typed value such as int:1, or a bare string.
func parseParams(args []string) ([]any, error) {
	params := make([]any, 0, len(args))
	for i, arg := range args {
		v, err := parseParam(arg)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		params = append(params, v)
	}
	return params, nil
}

func parseParam(arg string) (any, error) {
	if strings.EqualFold(arg, "null") {
		return nil, nil
	}
	typ, val, ok := strings.Cut(arg, ":")
	if !ok {
		return arg, nil
	}
	switch typ {
	case "int":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", val)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", val)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", val)
		}
		return b, nil
	case "str":
		return val, nil
	}
	// Not a known type prefix, e.g. a timestamp such as 12:30.
	return arg, nil
}
