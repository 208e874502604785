package phone

// Locale selects the language of user facing labels.
type Locale string

const (
	LocaleEnglish    Locale = "en"
	LocalePortuguese Locale = "pt-BR"
)

// Valid reports whether labels exist for l.
func (l Locale) Valid() bool {
	_, ok := callLabels[l]
	return ok
}

var callLabels = map[Locale]map[CallState]string{
	LocaleEnglish: {
		CallNull:         "Idle",
		CallCalling:      "Calling...",
		CallIncoming:     "Incoming Call",
		CallEarly:        "Ringing (Early)",
		CallConnecting:   "Connecting...",
		CallConfirmed:    "Connected",
		CallDisconnected: "Disconnected",
	},
	LocalePortuguese: {
		CallNull:         "Nulo",
		CallCalling:      "Chamando...",
		CallIncoming:     "Recebendo Chamada",
		CallEarly:        "Estabelecendo (Early)",
		CallConnecting:   "Conectando...",
		CallConfirmed:    "Conectado",
		CallDisconnected: "Desconectado",
	},
}

var statusLabels = map[Locale]map[ConnectionStatus]string{
	LocaleEnglish: {
		StatusDisconnected: "Disconnected",
		StatusConfiguring:  "Configuring",
		StatusConnecting:   "Connecting",
		StatusRegistered:   "Registered",
		StatusUnregistered: "Not Registered",
		StatusError:        "Error",
	},
	LocalePortuguese: {
		StatusDisconnected: "Desconectado",
		StatusConfiguring:  "Configurando",
		StatusConnecting:   "Conectando",
		StatusRegistered:   "Registrado",
		StatusUnregistered: "Não Registrado",
		StatusError:        "Erro",
	},
}

// CallStateText returns the label for st, falling back to English.
func (l Locale) CallStateText(st CallState) string {
	if m, ok := callLabels[l]; ok {
		if s, ok := m[st]; ok {
			return s
		}
	}
	if s, ok := callLabels[LocaleEnglish][st]; ok {
		return s
	}
	return st.String()
}

// StatusText returns the label for s, falling back to English.
func (l Locale) StatusText(s ConnectionStatus) string {
	if m, ok := statusLabels[l]; ok {
		if txt, ok := m[s]; ok {
			return txt
		}
	}
	if txt, ok := statusLabels[LocaleEnglish][s]; ok {
		return txt
	}
	return s.String()
}
