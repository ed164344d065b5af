package tools

import (
	"strings"

	"github.com/castellan/castellan/pkg/config"
)

// DefaultBlockedDomains can never be reached through the universal tool,
// regardless of configuration elsewhere. These are the domains that execute
// arbitrary code or rewrite automation logic.
func DefaultBlockedDomains() []string {
	return []string{"shell_command", "hassio", "script", "automation", "rest_command"}
}

// DefaultAllowedDomains is the controllable surface of the home.
func DefaultAllowedDomains() []string {
	return []string{
		"light", "switch", "climate", "fan", "cover", "media_player",
		"lock", "alarm_control_panel", "camera", "scene", "vacuum",
		"humidifier", "water_heater", "input_boolean", "button", "notify",
	}
}

// DefaultHighImpactServices route through the approval queue instead of
// executing directly.
func DefaultHighImpactServices() []string {
	return []string{
		"lock.unlock",
		"lock.lock",
		"alarm_control_panel.alarm_arm_home",
		"alarm_control_panel.alarm_arm_away",
		"alarm_control_panel.alarm_arm_night",
		"alarm_control_panel.alarm_disarm",
		"camera.disable_motion_detection",
		"camera.turn_off",
	}
}

// Safety resolves the three lists, with configuration overriding the
// defaults list-by-list.
type Safety struct {
	blocked    map[string]struct{}
	allowed    map[string]struct{}
	highImpact map[string]struct{}
}

func NewSafety(cfg config.SafetyConfig) *Safety {
	blocked := cfg.BlockedDomains
	if len(blocked) == 0 {
		blocked = DefaultBlockedDomains()
	}
	allowed := cfg.AllowedDomains
	if len(allowed) == 0 {
		allowed = DefaultAllowedDomains()
	}
	high := cfg.HighImpactServices
	if len(high) == 0 {
		high = DefaultHighImpactServices()
	}
	return &Safety{
		blocked:    toSet(blocked),
		allowed:    toSet(allowed),
		highImpact: toSet(high),
	}
}

func (s *Safety) Blocked(domain string) bool {
	_, ok := s.blocked[strings.ToLower(domain)]
	return ok
}

func (s *Safety) Allowed(domain string) bool {
	_, ok := s.allowed[strings.ToLower(domain)]
	return ok
}

func (s *Safety) HighImpact(domain, service string) bool {
	_, ok := s.highImpact[strings.ToLower(domain)+"."+strings.ToLower(service)]
	return ok
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, item := range list {
		m[strings.ToLower(item)] = struct{}{}
	}
	return m
}
