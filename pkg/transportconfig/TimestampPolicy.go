package transportconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// TimestampPolicy determines which published values receive a timestamp.
// In yaml it is either a boolean or a list of band names.
type TimestampPolicy struct {
	All   bool
	Bands []string
}

// Applies returns true when values of the given band must be timestamped
func (policy TimestampPolicy) Applies(band string) bool {
	if policy.All {
		return true
	}
	for _, b := range policy.Bands {
		if b == band {
			return true
		}
	}
	return false
}

// UnmarshalYAML accepts a boolean or a list of band names
func (policy *TimestampPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var all bool
	if err := unmarshal(&all); err == nil {
		policy.All = all
		policy.Bands = nil
		return nil
	}
	var bands []string
	if err := unmarshal(&bands); err != nil {
		return fmt.Errorf("add_timestamp must be a boolean or a list of bands: %w", err)
	}
	policy.All = false
	policy.Bands = bands
	return nil
}

// MarshalYAML writes the policy back in the form it was read
func (policy TimestampPolicy) MarshalYAML() (interface{}, error) {
	if policy.All || len(policy.Bands) == 0 {
		return policy.All, nil
	}
	return policy.Bands, nil
}

// String renders the policy in the commandline form
func (policy *TimestampPolicy) String() string {
	if policy == nil {
		return "false"
	}
	if policy.All || len(policy.Bands) == 0 {
		return strconv.FormatBool(policy.All)
	}
	return strings.Join(policy.Bands, ",")
}

// Set parses the commandline form: true, false or a comma separated list of bands
func (policy *TimestampPolicy) Set(value string) error {
	if all, err := strconv.ParseBool(value); err == nil {
		policy.All = all
		policy.Bands = nil
		return nil
	}
	policy.All = false
	policy.Bands = nil
	for _, band := range strings.Split(value, ",") {
		band = strings.TrimSpace(band)
		if band != "" {
			policy.Bands = append(policy.Bands, band)
		}
	}
	return nil
}
