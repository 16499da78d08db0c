package timestamp

// Decoder turns one raw value into a Candidate.
type Decoder func(v any) Candidate

// Container classes of plaso's date_time object and their decoders.
var containerDecoders = map[string]Decoder{
	"Filetime":                Filetime,
	"WebKitTime":              WebKit,
	"PosixTime":               UnixSeconds,
	"PosixTimeInMilliseconds": UnixMilli,
	"JavaTime":                UnixMilli,
	"PosixTimeInMicroseconds": UnixMicro,
	"PosixTimeInNanoseconds":  UnixNano,
	"OLEAutomationDate":       OLEAutomation,
}

const (
	fieldClassName     = "__class_name__"
	fieldTimestamp     = "timestamp"
	fieldTimeElements  = "time_elements_tuple"
	classTimeElements  = "TimeElements"
	classTimeElementsM = "TimeElementsInMilliseconds"
	classTimeElementsU = "TimeElementsInMicroseconds"
)

// Native decodes a date_time container according to its __class_name__.
// Containers without a class name are decoded as a time elements tuple when
// they carry one and with implied otherwise. Unknown classes give an invalid
// candidate so callers fall back to the normalized timestamp.
func Native(dt map[string]any, implied Decoder) Candidate {
	if dt == nil {
		return Candidate{}
	}
	class, _ := dt[fieldClassName].(string)
	switch class {
	case "":
		if tuple, ok := dt[fieldTimeElements]; ok {
			return TimeElements(tuple)
		}
		if implied == nil {
			return Candidate{}
		}
		return implied(dt[fieldTimestamp])
	case classTimeElements, classTimeElementsM, classTimeElementsU:
		return TimeElements(dt[fieldTimeElements])
	}
	if decode, ok := containerDecoders[class]; ok {
		return decode(dt[fieldTimestamp])
	}
	return Candidate{}
}
