package evtx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Handler builds the typed sub-document for one event id.
type Handler func(r Record) (map[string]any, error)

// document is the common shape every handler starts from.
type document struct {
	root   map[string]any
	event  map[string]any
	winlog map[string]any
}

func newDocument(r Record) document {
	event := map[string]any{"kind": "event", "category": "host"}
	winlog := map[string]any{
		"provider_name": r.Provider(),
		"event_id":      r.EventID(),
		"channel":       r.Channel(),
	}
	return document{
		root:   map[string]any{"event": event, "winlog": winlog},
		event:  event,
		winlog: winlog,
	}
}

func (d document) set(key string, value any) document {
	d.root[key] = value
	return d
}

func (d document) action(action string) document {
	d.event["action"] = action
	return d
}

// Generic serializes the whole event data block to a string field. It is
// used when no typed handler exists or a typed handler fails.
func Generic(r Record) (map[string]any, error) {
	d := newDocument(r)
	b, err := json.Marshal(r.EventData())
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	d.winlog["event_data_str"] = string(b)
	return d.root, nil
}

// logonFailureStatus maps NTSTATUS codes of 4625 events, keyed lower-case.
var logonFailureStatus = map[string]string{
	"0xc000006a": "STATUS_WRONG_PASSWORD",
	"0xc0000072": "STATUS_ACCOUNT_DISABLED",
	"0xc0000064": "STATUS_NO_SUCH_USER",
	"0xc0000234": "STATUS_ACCOUNT_LOCKED_OUT",
	"0xc000006f": "STATUS_ACCOUNT_RESTRICTION",
	"0xc0000133": "STATUS_TIME_DIFFERENCE_TOO_LARGE",
	"0xc000019c": "STATUS_LOGON_TYPE_NOT_GRANTED",
	"0xc0000071": "STATUS_PASSWORD_EXPIRED",
	"0xc00000e5": "STATUS_UNKNOWN_LOGON_SESSION",
	"0xc000006e": "STATUS_ACCOUNT_RESTRICTION",
	"0xc000006d": "STATUS_LOGON_FAILURE",
}

// LogonFailureReason returns the symbolic name of a 4625 status code, or the
// code itself when it is not known.
func LogonFailureReason(status string) string {
	if reason, ok := logonFailureStatus[strings.ToLower(status)]; ok {
		return reason
	}
	return status
}

// ParseHex parses a hexadecimal identifier such as "0x1a4". Malformed input
// yields 0.
func ParseHex(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return n
}

// port parses IpPort, treating "-" and "0" as absent.
func port(v any) any {
	s := text(v)
	if s == "" || s == "-" || s == "0" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return n
}

func ipAddress(v any) any {
	if text(v) == "-" {
		return nil
	}
	return v
}

// baseName returns the last element of a Windows or POSIX path.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `\/`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func securityLogon(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("logon")
	d.event["type"] = "start"
	d.event["outcome"] = "success"
	d.winlog["logon"] = map[string]any{"type": data["LogonType"]}
	d.set("source", map[string]any{
		"user": map[string]any{"name": data["SubjectUserName"]},
		"ip":   ipAddress(data["IpAddress"]),
		"port": port(data["IpPort"]),
	})
	d.set("user", map[string]any{"name": data["TargetUserName"], "domain": data["TargetDomainName"]})
	return d.root, nil
}

func securityLogonFailure(r Record) (map[string]any, error) {
	data := r.EventData()
	status := text(data["Status"])
	d := newDocument(r).action("logon")
	d.event["type"] = "start"
	d.event["outcome"] = "failure"
	d.winlog["logon"] = map[string]any{"type": data["LogonType"]}
	d.set("source", map[string]any{
		"user": map[string]any{"name": data["SubjectUserName"]},
		"ip":   ipAddress(data["IpAddress"]),
		"port": port(data["IpPort"]),
	})
	d.set("user", map[string]any{"name": data["TargetUserName"]})
	d.set("error", map[string]any{"code": status, "message": LogonFailureReason(status)})
	return d.root, nil
}

func specialPrivileges(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("special_privileges_assigned")
	d.winlog["event_data"] = map[string]any{"privileges": data["PrivilegeList"]}
	d.set("user", map[string]any{"name": data["SubjectUserName"], "domain": data["SubjectDomainName"]})
	return d.root, nil
}

func processCreated(r Record) (map[string]any, error) {
	data := r.EventData()
	executable := text(data["NewProcessName"])
	d := newDocument(r).action("process_started")
	d.event["type"] = "start"
	d.set("process", map[string]any{
		"executable":   data["NewProcessName"],
		"name":         baseName(executable),
		"pid":          ParseHex(text(data["ProcessId"])),
		"command_line": data["CommandLine"],
		"parent": map[string]any{
			"pid":        ParseHex(text(data["CreatorProcessId"])),
			"executable": data["ParentProcessName"],
		},
	})
	return d.root, nil
}

func taskCreated(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("scheduled_task_created")
	d.event["category"] = "persistence"
	task := map[string]any{"name": data["TaskName"]}
	d.set("task", task)
	d.set("user", map[string]any{"name": data["SubjectUserName"], "domain": data["SubjectDomainName"]})

	content := strings.TrimSpace(text(data["TaskContent"]))
	if content == "" {
		return d.root, nil
	}
	if err := parseTaskContent(task, content); err != nil {
		task["xml_parsing_error"] = err.Error()
		task["content_raw"] = content
	}
	return d.root, nil
}

// parseTaskContent extracts the Exec actions and the triggers of a task
// definition.
func parseTaskContent(task map[string]any, content string) error {
	parsed, err := decodeXML(content)
	if err != nil {
		return err
	}
	definition := object(parsed["Task"])

	switch exec := object(definition["Actions"])["Exec"].(type) {
	case []any:
		commands := make([]any, 0, len(exec))
		arguments := make([]any, 0, len(exec))
		for _, action := range exec {
			a := object(action)
			commands = append(commands, a["Command"])
			arguments = append(arguments, a["Arguments"])
		}
		task["command"] = commands
		task["arguments"] = arguments
	case map[string]any:
		task["command"] = exec["Command"]
		task["arguments"] = exec["Arguments"]
	}

	triggers, err := json.Marshal(object(definition["Triggers"]))
	if err != nil {
		return err
	}
	task["triggers_raw"] = string(triggers)
	return nil
}

var userActions = map[int]string{
	4720: "user_created",
	4723: "password_changed",
	4724: "password_reset",
	4726: "user_deleted",
}

func userModification(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action(lookup(userActions, r.EventID(), "user_modified"))
	d.set("user", map[string]any{"name": data["TargetUserName"], "id": data["TargetSid"]})
	d.set("source_user", map[string]any{"name": data["SubjectUserName"]})
	return d.root, nil
}

func serviceInstalled(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("service_installed")
	d.set("service", map[string]any{
		"name":       data["ServiceName"],
		"path":       data["ImagePath"],
		"start_type": data["StartType"],
		"account":    data["AccountName"],
	})
	return d.root, nil
}

func scriptBlock(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("powershell_script_block_execution")
	d.set("process", map[string]any{"pid": data["HostId"], "name": data["HostName"]})
	d.set("powershell", map[string]any{
		"script_block_id":   data["ScriptBlockId"],
		"script_block_text": data["ScriptBlockText"],
		"path":              data["Path"],
	})
	return d.root, nil
}

func moduleLogging(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("powershell_module_pipeline_execution")
	d.set("powershell", map[string]any{"context": data["Context"], "payload": data["Payload"]})
	return d.root, nil
}

// ParseDetails reads the "Key=Value" lines PowerShell writes into the last
// Data element of engine and provider events.
func ParseDetails(block string) map[string]string {
	details := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		details[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return details
}

func detailsBlock(data map[string]any) map[string]string {
	list, _ := data["Data"].([]any)
	if len(list) == 0 {
		return map[string]string{}
	}
	return ParseDetails(text(list[len(list)-1]))
}

// optional turns a missing detail into a JSON null.
func optional(details map[string]string, key string) any {
	if v, ok := details[key]; ok {
		return v
	}
	return nil
}

func powershellHost(details map[string]string) map[string]any {
	return map[string]any{
		"name":    optional(details, "HostName"),
		"version": optional(details, "HostVersion"),
		"id":      optional(details, "HostId"),
	}
}

func powershellCommand(details map[string]string) map[string]any {
	return map[string]any{
		"name": optional(details, "CommandName"),
		"type": optional(details, "CommandType"),
		"path": optional(details, "CommandPath"),
		"line": optional(details, "CommandLine"),
	}
}

func engineState(r Record) (map[string]any, error) {
	details := detailsBlock(r.EventData())
	d := newDocument(r).action("powershell_engine_state_change")
	d.set("powershell", map[string]any{
		"engine_state":          optional(details, "NewEngineState"),
		"previous_engine_state": optional(details, "PreviousEngineState"),
		"sequence_number":       optional(details, "SequenceNumber"),
		"host":                  powershellHost(details),
		"runspace_id":           optional(details, "RunspaceId"),
		"pipeline_id":           optional(details, "PipelineId"),
		"engine_version":        optional(details, "EngineVersion"),
		"command":               powershellCommand(details),
		"script_name":           optional(details, "ScriptName"),
	})
	d.set("process", map[string]any{"command_line": optional(details, "HostApplication")})
	return d.root, nil
}

func providerLifecycle(r Record) (map[string]any, error) {
	details := detailsBlock(r.EventData())
	d := newDocument(r).action("powershell_provider_lifecycle")
	d.set("powershell", map[string]any{
		"provider": map[string]any{
			"name":      optional(details, "ProviderName"),
			"new_state": optional(details, "NewProviderState"),
		},
		"sequence_number": optional(details, "SequenceNumber"),
		"host":            powershellHost(details),
		"runspace_id":     optional(details, "RunspaceId"),
		"pipeline_id":     optional(details, "PipelineId"),
		"command":         powershellCommand(details),
		"script_name":     optional(details, "ScriptName"),
	})
	d.set("process", map[string]any{"command_line": optional(details, "HostApplication")})
	return d.root, nil
}

func wmiFailure(r Record) (map[string]any, error) {
	failure := object(r.UserData()["Operation_ClientFailure"])
	d := newDocument(r).action("wmi_activity")
	d.event["outcome"] = "failure"
	d.set("source", map[string]any{
		"domain":  failure["ClientMachine"],
		"process": map[string]any{"pid": failure["ClientProcessId"]},
	})
	d.set("wmi", map[string]any{"operation": failure["Operation"], "component": failure["Component"]})
	d.set("user", map[string]any{"name": failure["User"]})
	d.set("error", map[string]any{"code": failure["ResultCode"], "message": failure["PossibleCause"]})
	return d.root, nil
}

func wmiActivity(r Record) (map[string]any, error) {
	userData := r.UserData()
	d := newDocument(r).action("wmi_activity")
	d.event["outcome"] = "success"

	op := object(userData["Operation_TemporaryEssStarted"])
	if len(op) == 0 {
		op = object(userData["Operation_EssStarted"])
	}
	if len(op) > 0 {
		operation := op["Operation"]
		if operation == nil {
			operation = "EssStarted"
		}
		d.set("wmi", map[string]any{"namespace": op["NamespaceName"], "query": op["Query"], "operation": operation})
		d.set("source", map[string]any{"process": map[string]any{"pid": op["Processid"]}})
		d.set("user", map[string]any{"name": op["User"]})
		return d.root, nil
	}

	data := r.EventData()
	d.set("wmi", map[string]any{"operation": data["Operation"], "query": data["Query"], "consumer": data["Consumer"]})
	d.set("user", map[string]any{"name": data["User"]})
	return d.root, nil
}

var (
	wmiQuery         = regexp.MustCompile(`(?i)Query\s*=\s*"([^"]+)"`)
	wmiQueryLanguage = regexp.MustCompile(`(?i)QueryLanguage\s*=\s*"([^"]+)"`)
)

func wmiConsumerBinding(r Record) (map[string]any, error) {
	binding := object(r.UserData()["Operation_ESStoConsumerBinding"])
	if len(binding) == 0 {
		return Generic(r)
	}
	d := newDocument(r).action("wmi_consumer_binding")
	d.event["category"] = "persistence"
	wmi := map[string]any{
		"namespace":       binding["Namespace"],
		"filter_name":     binding["ESS"],
		"consumer_name":   binding["CONSUMER"],
		"binding_xml_raw": binding["PossibleCause"],
	}
	d.set("wmi", wmi)

	if cause := text(binding["PossibleCause"]); cause != "" {
		if m := wmiQuery.FindStringSubmatch(cause); m != nil {
			wmi["query"] = m[1]
		}
		if m := wmiQueryLanguage.FindStringSubmatch(cause); m != nil {
			wmi["query_language"] = m[1]
		}
	}
	return d.root, nil
}

var defenderActions = map[int]string{
	1116: "threat_detected",
	1117: "threat_action_taken",
	1118: "threat_action_failed",
	1119: "history_deleted",
}

func defender(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action(lookup(defenderActions, r.EventID(), "defender_activity"))
	d.event["provider"] = "Windows Defender"
	d.set("threat", map[string]any{
		"name":     data["Threat Name"],
		"severity": data["Severity Name"],
		"path":     data["Path"],
	})
	d.set("user", map[string]any{"name": data["Detection User"]})
	return d.root, nil
}

func taskScheduler(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action("scheduled_task_activity")
	d.set("task", map[string]any{
		"name":        data["TaskName"],
		"action":      data["ActionName"],
		"result_code": data["ResultCode"],
	})
	d.set("user", map[string]any{"name": data["UserContext"]})
	return d.root, nil
}

// firstOf returns the first non-empty value.
func firstOf(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return nil
}

func rdpRemote(r Record) (map[string]any, error) {
	data := r.EventData()
	eventXML := object(r.UserData()["EventXML"])
	d := newDocument(r).action("rdp_login")
	d.event["outcome"] = "success"
	d.set("user", map[string]any{
		"name":   firstOf(eventXML["Param1"], data["User"], data["Param1"]),
		"domain": firstOf(eventXML["Param2"], data["Domain"], data["Param2"]),
	})
	d.set("source", map[string]any{"ip": firstOf(eventXML["Param3"], data["ClientAddress"], data["Param3"])})
	return d.root, nil
}

var rdpSessionActions = map[int]string{
	21: "session_logon",
	24: "session_disconnected",
	25: "session_reconnected",
	39: "session_disconnected_by_other",
	40: "session_disconnected_by_other",
}

func rdpLocal(r Record) (map[string]any, error) {
	eventXML := object(r.UserData()["EventXML"])
	d := newDocument(r).action(lookup(rdpSessionActions, r.EventID(), "rdp_session_activity"))
	d.winlog["session_id"] = eventXML["SessionID"]
	d.set("user", map[string]any{"name": eventXML["User"]})
	d.set("source", map[string]any{"ip": eventXML["Address"]})
	return d.root, nil
}

var bitsActions = map[int]string{
	3:  "bits_job_creation",
	4:  "bits_job_transferred",
	59: "bits_job_modified",
	60: "bits_job_error",
	61: "bits_job_cancelled",
}

func bitsClient(r Record) (map[string]any, error) {
	data := r.EventData()
	d := newDocument(r).action(lookup(bitsActions, r.EventID(), "bits_job_activity"))

	var fileName any = data["name"]
	if url := text(data["url"]); url != "" {
		path, _, _ := strings.Cut(url, "?")
		fileName = baseName(path)
	}
	d.set("bits", map[string]any{
		"job_id":      firstOf(data["Id"], data["jobId"]),
		"job_title":   firstOf(data["name"], data["jobTitle"]),
		"transfer_id": data["transferId"],
		"owner":       data["owner"],
	})
	d.set("file", map[string]any{"name": fileName, "size": data["fileLength"], "mtime": data["fileTime"]})
	d.set("network", map[string]any{"bytes_transferred": data["bytesTransferred"], "total_bytes": data["bytesTotal"]})
	d.set("url", map[string]any{"original": data["url"]})
	return d.root, nil
}

func lookup(actions map[int]string, id int, fallback string) string {
	if a, ok := actions[id]; ok {
		return a
	}
	return fallback
}
