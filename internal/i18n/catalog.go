package i18n

// Flow codes use the same key as the flow package so a form error can be
// rendered with Text(code, lang).
var translations = []struct {
	key, en, de, zh string
}{
	// config flow errors and abort reasons
	{"invalid_auth", "Invalid API key.", "Ungültiger API-Schlüssel.", "API 密钥无效。"},
	{"rate_limit", "Rate limit exceeded. Try again later.", "Anfragelimit überschritten. Bitte später erneut versuchen.", "请求过于频繁，请稍后再试。"},
	{"cannot_connect", "Failed to connect to the service.", "Verbindung zum Dienst fehlgeschlagen.", "无法连接到服务。"},
	{"unknown", "Unexpected error.", "Unerwarteter Fehler.", "发生意外错误。"},
	{"invalid_api_key", "The API key format is not valid.", "Das Format des API-Schlüssels ist ungültig.", "API 密钥格式无效。"},
	{"invalid_base_url", "The base URL must use HTTPS. Plain HTTP needs the local network override and a local host.", "Die Basis-URL muss HTTPS verwenden. HTTP ist nur mit der Freigabe für lokale Netzwerke und einem lokalen Host erlaubt.", "基础 URL 必须使用 HTTPS。HTTP 仅在启用本地网络选项且主机为本地地址时允许。"},
	{"invalid_option", "One of the values is out of range.", "Einer der Werte liegt außerhalb des zulässigen Bereichs.", "某个值超出允许范围。"},
	{"required", "This field is required.", "Dieses Feld ist erforderlich.", "此字段为必填项。"},
	{"already_configured", "This API key is already configured.", "Dieser API-Schlüssel ist bereits eingerichtet.", "该 API 密钥已配置。"},

	// field labels
	{"field.api_key", "API key", "API-Schlüssel", "API 密钥"},
	{"field.base_url", "Base URL", "Basis-URL", "基础 URL"},
	{"field.allow_local", "Allow plain HTTP on the local network", "HTTP im lokalen Netzwerk erlauben", "允许在本地网络使用 HTTP"},
	{"field.model", "Model", "Modell", "模型"},
	{"field.prompt", "Instructions", "Anweisungen", "指令"},
	{"field.llm_hass_api", "Control Home Assistant", "Home Assistant steuern", "控制 Home Assistant"},
	{"field.recommended", "Recommended model settings", "Empfohlene Modelleinstellungen", "推荐的模型设置"},
	{"field.max_tokens", "Maximum tokens to return", "Maximale Anzahl an Tokens", "最大返回 token 数"},
	{"field.temperature", "Temperature", "Temperatur", "温度"},
	{"field.top_p", "Top P", "Top P", "Top P"},
	{"field.timeout", "Request timeout", "Zeitlimit für Anfragen", "请求超时"},

	// model notes in the AI task picker
	{"note.structured_output", "schema enforced by the service", "Schema wird vom Dienst erzwungen", "由服务强制执行结构"},
	{"note.json_repair", "free-form JSON, repaired locally", "freies JSON, lokal repariert", "自由格式 JSON，本地修复"},

	// results
	{"entry_created", "Created %s.", "%s wurde angelegt.", "已创建 %s。"},
	{"subentry_created", "Added agent %s.", "Agent %s wurde hinzugefügt.", "已添加代理 %s。"},
	{"options_saved", "Options saved.", "Optionen gespeichert.", "选项已保存。"},
	{"tool_call_skipped", "Skipped a call to %s: its arguments could not be read.", "Aufruf von %s übersprungen: Die Argumente konnten nicht gelesen werden.", "已跳过对 %s 的调用：无法解析其参数。"},

	// runtime errors
	{"err.auth", "Authentication failed. Check the API key.", "Authentifizierung fehlgeschlagen. Bitte den API-Schlüssel prüfen.", "身份验证失败，请检查 API 密钥。"},
	{"err.rate_limited", "The service is rate limiting requests. Try again later.", "Der Dienst begrenzt die Anfragen. Bitte später erneut versuchen.", "服务正在限制请求，请稍后再试。"},
	{"err.timeout", "The request timed out.", "Die Anfrage hat das Zeitlimit überschritten.", "请求超时。"},
	{"err.cannot_connect", "Could not reach the service.", "Der Dienst ist nicht erreichbar.", "无法访问服务。"},
	{"err.bad_request", "The service rejected the request.", "Der Dienst hat die Anfrage abgelehnt.", "服务拒绝了该请求。"},
	{"err.upstream", "The service returned an error.", "Der Dienst hat einen Fehler gemeldet.", "服务返回了错误。"},
	{"err.malformed_tool_arguments", "The model sent tool arguments that could not be read.", "Das Modell hat unlesbare Werkzeugargumente gesendet.", "模型发送的工具参数无法解析。"},
	{"err.unsupported_feature", "This endpoint does not support the requested feature.", "Dieser Endpunkt unterstützt die angeforderte Funktion nicht.", "该端点不支持所请求的功能。"},
	{"err.invalid_api_key", "The API key format is not valid.", "Das Format des API-Schlüssels ist ungültig.", "API 密钥格式无效。"},
	{"err.invalid_base_url", "The base URL is invalid or insecure.", "Die Basis-URL ist ungültig oder unsicher.", "基础 URL 无效或不安全。"},
	{"err.invalid_option", "An option value is out of range.", "Ein Optionswert liegt außerhalb des zulässigen Bereichs.", "某个选项值超出范围。"},
	{"err.already_configured", "This API key is already configured.", "Dieser API-Schlüssel ist bereits eingerichtet.", "该 API 密钥已配置。"},
	{"err.entry_not_found", "No such configuration entry.", "Dieser Konfigurationseintrag existiert nicht.", "找不到该配置项。"},
	{"err.subentry_not_found", "No such agent.", "Dieser Agent existiert nicht.", "找不到该代理。"},
	{"err.not_loaded", "The configuration entry is not loaded.", "Der Konfigurationseintrag ist nicht geladen.", "配置项尚未加载。"},
	{"err.unknown_tool", "The model asked for a tool that does not exist.", "Das Modell hat ein unbekanntes Werkzeug angefordert.", "模型请求了不存在的工具。"},
	{"err.max_tool_iterations", "The model kept calling tools without answering.", "Das Modell hat Werkzeuge aufgerufen, ohne zu antworten.", "模型持续调用工具而未给出回答。"},
	{"err.structured_output", "The model did not return data in the requested format.", "Das Modell hat keine Daten im angeforderten Format geliefert.", "模型未按要求的格式返回数据。"},
	{"err.cancelled", "The request was cancelled.", "Die Anfrage wurde abgebrochen.", "请求已取消。"},
	{"err.unknown", "Unexpected error.", "Unerwarteter Fehler.", "发生意外错误。"},
}
