package watcher

import "strings"

// Published state names below an instance channel.
const (
	stateIsOperating = "isOperating"
	stateEnabled     = "enabled"
	stateOn          = "on"
	stateOff         = "off"
	stateMode        = "mode"
	stateSchedule    = "schedule"
	stateLog         = "log"
)

// Published aggregate state names below the info channel.
const (
	infoCount   = "enabledNotOperatingCount"
	infoList    = "enabledNotOperatingList"
	infoLog     = "enabledNotOperatingLog"
	infoUpdated = "updatedDate"
)

// keys builds the published state keys of a namespace.
type keys struct {
	namespace string
}

// instancePrefix is "<ns>.instances.".
func (k keys) instancePrefix() string {
	return k.namespace + ".instances."
}

// instance returns "<ns>.instances.<id>.<name>".
func (k keys) instance(id, name string) string {
	return k.instancePrefix() + id + "." + name
}

// info returns "<ns>.info.<name>".
func (k keys) info(name string) string {
	return k.namespace + ".info." + name
}

// commandPattern matches every state below the instances channel.
func (k keys) commandPattern() string {
	return k.instancePrefix() + "*"
}

// parseCommand splits "<ns>.instances.<id>.<name>" into id and name.
func (k keys) parseCommand(key string) (id, name string, ok bool) {
	rest, found := strings.CutPrefix(key, k.instancePrefix())
	if !found {
		return "", "", false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", false
	}
	return rest[:dot], rest[dot+1:], true
}
