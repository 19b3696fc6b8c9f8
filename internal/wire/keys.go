package wire

// Reserved transport channel keys.
const (
	// KeyCommands holds the control plane's ordered command list.
	KeyCommands = "_commands"
	// KeySources holds persisted source records (object keyed by source id).
	KeySources = "_sources"
	// KeyLayers holds persisted layer records (array in render order).
	KeyLayers = "_layers"
	// KeyControls holds persisted control records (object keyed by control id).
	KeyControls = "_controls"
	// KeyEvents holds the outbound event log.
	KeyEvents = "_events"
)

// ReservedKeys lists every key the runtime reads or writes.
var ReservedKeys = []string{KeyCommands, KeySources, KeyLayers, KeyControls, KeyEvents}

// IsReserved reports whether key is one of the reserved channel keys.
func IsReserved(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}
