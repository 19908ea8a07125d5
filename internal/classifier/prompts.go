package classifier

const statusPrompt = `Analiza esta conversación y determina el estado del cliente. Responde ÚNICAMENTE con una palabra.

RECHAZADO - El cliente NO quiere continuar. Detecta estas señales:
- Rechazos directos: "no me interesa", "no gracias", "no quiero", "no es para mí"
- Peticiones de parar: "ya no me escriban", "dejen de mandarme mensajes", "no me contacten", "basta", "ya estuvo", "párenle"
- Negativas claras: "no estoy interesado", "ya no", "nel", "nop", "para nada", "olvídalo", "déjalo así"
- Rechazo educado: "gracias pero no", "por el momento no", "ahorita no puedo", "no es buen momento"
- Cualquier variación que indique que NO quiere seguir recibiendo información

FRUSTRADO - El cliente está MOLESTO (solo si hay señales claras de enojo):
- Quejas de insistencia: "ya les dije que no", "dejen de molestar", "qué necio", "ya me hartaron"
- Lenguaje agresivo o groserías
- Amenazas de bloquear o reportar

ACEPTADO - El cliente quiere PROCEDER:
- Pide cita, da su correo, confirma interés explícito, quiere avanzar con la compra

ACTIVO - La conversación sigue PRODUCTIVA:
- Hace preguntas, muestra interés, pide más información

INACTIVO - Sin señales claras (respuestas ambiguas o muy cortas sin contexto)

IMPORTANTE: Ante la DUDA entre RECHAZADO y ACTIVO, prefiere RECHAZADO si hay cualquier indicio de desinterés. Es mejor dejar de contactar a un cliente que podría estar interesado que molestar a uno que no lo está.

Responde ÚNICAMENTE: ACEPTADO, RECHAZADO, FRUSTRADO, ACTIVO o INACTIVO`

const supportPrompt = `Eres un detector de intención en conversaciones de ventas inmobiliarias.

Determina si el cliente está pidiendo hablar con un asesor humano, agendar
una cita, o ser contactado por una persona. Frases como "quiero que me
llamen", "puedo hablar con alguien", "agéndame una cita" o aceptar una
propuesta de llamada cuentan como SI.

Responde ÚNICAMENTE con "SI" o "NO".`
