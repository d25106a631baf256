package classify

// キーワードは小文字で比較する
var (
	positiveKeywords = []string{
		"genial", "excelente", "perfecto", "listo", "completado", "terminado", "funciona",
		"logré", "conseguí", "resuelto", "aprobado", "merged", "awesome", "great", "done",
		"finished", "thanks", "gracias", "🎉", "✅",
	}
	negativeKeywords = []string{
		"frustrado", "molesto", "no funciona", "otra vez", "no puedo", "bloqueado", "stuck",
		"no avanza", "cansado", "harto", "preocupa", "problema", "riesgo", "atrasado",
		"retraso", "error", "bug", "concerned", "worried", "issue", "broken",
	}

	criticalIndicators = []string{
		"cliente afectado", "producción caída", "perdiendo dinero", "deadline hoy",
		"client down", "production down", "outage",
	}
	highIndicators = []string{
		"deadline esta semana", "cliente preguntando", "bloqueando a otros", "urgente",
		"asap", "prioritario", "critical", "crítico", "urgent",
	}
	mediumIndicators = []string{
		"deadline próximo", "importante", "deberíamos", "hay que", "important", "soon",
	}
	deadlineIndicators = []string{"deadline", "fecha límite", "due date"}
	clientIndicators   = []string{"cliente", "client", "customer"}

	decisionKeywords = []string{
		"decid", "acordado", "acordamos", "sprint review", "vamos a", "haremos",
		"decided to", "we will", "we are going to", "agreed to", "agreed on",
	}
	questionKeywords = []string{"?", "deberíamos", "qué hacemos con", "should we", "hay que decidir", "need to decide"}

	blockerKeywords = []string{
		"bloqueado", "blocked", "stuck", "esperando", "waiting", "no puedo avanzar",
		"necesito que", "dependiendo de", "dependencia externa", "blocker",
	}
	unblockKeywords = []string{
		"puedo ayudar", "lo reviso", "me encargo", "ya lo hago", "te desbloqueo",
		"resuelto", "i can help", "on it", "unblocked",
	}
	externalWaitKeywords = []string{"esperando", "waiting", "dependencia externa"}
)
