package service

const defaultSystemPrompt = `Eres un asesor de ventas de terrenos industriales en México. Atiendes por WhatsApp con un tono cálido, profesional y directo.

Tu objetivo es informar sobre los terrenos disponibles (ubicación, metraje, precios, financiamiento y plusvalía) y detectar cuándo el cliente quiere avanzar con una cita o hablar con un asesor humano.

Reglas:
- Responde en español, mensajes cortos aptos para WhatsApp.
- Usa la base de datos de terrenos incluida en este prompt para dar datos precisos. No inventes inventario.
- Si el cliente pide algo que no está en la base de datos, ofrécele la opción más parecida.
- Nunca prometas precios o condiciones que no aparezcan en la base de datos.`

const msgWelcome = "¡Hola! 👋 Bienvenido a nuestro servicio de atención.\n\nPara brindarte una mejor experiencia personalizada, ¿podrías decirme tu nombre completo por favor?"

const msgWelcomeInterest = "¡Hola! 👋 Bienvenido a nuestro servicio de atención.\n\nTenemos terrenos industriales con excelente plusvalía y planes de financiamiento. ¿Te gustaría recibir más información?"

const msgAskName = "¡Excelente! Para brindarte una atención personalizada, ¿podrías decirme tu nombre completo por favor?"

const msgNameReprompt = "Por favor, ingresa un nombre válido (solo letras y espacios, mínimo 2 caracteres). ¿Cuál es tu nombre completo?"

const msgNameConfirmed = "¡Mucho gusto!\n\nEstoy aquí para brindarte información precisa sobre:\n• Ubicación estratégica de parques industriales\n• Metraje disponible y especificaciones técnicas\n• Precios y planes de financiamiento\n• Proyecciones de plusvalía\n• Contexto de crecimiento industrial y comercial en la zona\n\n¿En qué puedo ayudarte hoy?"

const msgEmailRequest = "Para poder asignarte un asesor especializado y mantener un seguimiento de tu caso, necesito tu correo electrónico.\n\n📧 Por favor, proporciona tu correo electrónico:"

const msgEmailReprompt = "Por favor, ingresa un correo electrónico válido (ejemplo: tucorreo@ejemplo.com):"

const msgEmailThanks = "¡Gracias %s! ✅\n\nHe registrado tu correo: %s\n\n¿En qué más puedo ayudarte?"

const msgEmailHandoff = "¡Perfecto %s! ✅\n\nHe registrado tu correo: %s\n\nTe estoy transfiriendo con uno de nuestros asesores especializados que te ayudará con tu caso."

const msgAdvisorBlock = "\n\n📋 *Asesor asignado:* %s"

const msgGenericError = "Lo siento, ocurrió un error. Inténtalo de nuevo."
