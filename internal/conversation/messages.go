package conversation

import "fmt"

// Reply buttons offered by the assistant. Inbound button presses carry the
// title back as the message body.
const (
	ButtonConfirm   = "Si ✅"
	ButtonOtherDate = "Otra fecha"
	ButtonExit      = "Salir"
	ButtonCancel    = "Cancelar"
	ButtonConsent   = "Si"
	ButtonDecline   = "No, gracias"
)

const (
	msgTenantError        = "Lo siento, ocurrió un error al identificar la clínica."
	msgConfigError        = "Hubo un problema recuperando la configuración."
	msgInternalError      = "Lo siento, ocurrió un error interno."
	msgRetryLimit         = "Parece que no logro entenderte. Si necesitas ayuda, por favor contacta directamente con la clínica."
	msgFAQError           = "Lo siento, no pude procesar tu consulta en este momento. Por favor, intenta de nuevo."
	msgNoRelevant         = "No encontramos una cita pendiente reciente para confirmar o cancelar. Si necesitas ayuda, contacta con la clínica."
	msgInvalidEmployee    = `Profesional no válido o no disponible. Escribe "Cancelar" para salir o elige otro:`
	msgConfirmQuestion    = "¿Deseas confirmar la cita, cambiar la fecha o salir?"
	msgUnrecognizedChoice = "No entendí tu respuesta. Por favor, elige una de las opciones."
	msgOtherDate          = "Ok, dime qué otra fecha te gustaría."
	msgExit               = "De acuerdo, tu cita no ha sido confirmada. Puedes volver a empezar cuando quieras."
	msgRevisedPast        = "La fecha debe ser en el futuro. Intenta otra fecha."
	msgConsentPrompt      = "¿Quieres comenzar con el registro?"
	msgConsentDeclined    = "El registro fue cancelado, puedes volver a escribir cuando quieras continuarlo."
	msgConsentAccepted    = "Perfecto, voy a proceder con algunas preguntas"
	msgConsentInvalid     = "¡Elige una opción válida!"
	msgAskName            = "Por favor, escribe tu nombre completo:"
	msgAskEmail           = "¿Cuál es tu email?"
	msgInvalidEmail       = "Formato de correo inválido. Por favor, inténtalo de nuevo."
	msgVerifyError        = "Lo siento, tuvimos un problema verificando tu información. Por favor, intenta de nuevo."
)

func msgRegisterFirst(clinic string) string {
	return fmt.Sprintf("⚠️ Necesitas registrarte primero en %s para poder agendar una cita.", clinic)
}

func msgAskDate(name, clinic string) string {
	return fmt.Sprintf(`%s, por favor indícame la fecha para tu cita en %s (Ej: "15 de marzo a las 10")`, name, clinic)
}

func msgPastDate(name string) string {
	return fmt.Sprintf("%s, la fecha debe ser en el futuro. Intenta otra fecha.", name)
}

func msgAskTime(name, day, clinic string) string {
	return fmt.Sprintf(`🗓️ Perfecto %s, la fecha es %s. ¿A qué hora te gustaría la cita en %s? (Ej: "a las 15:30")`, name, day, clinic)
}

func msgUnparsedDate(name string) string {
	return fmt.Sprintf(`%s, no entendí la fecha o la hora. Por favor, usa un formato como "15 de marzo a las 10" o indica solo la hora si ya te pregunté por ella.`, name)
}

func msgNeedSpecificTime(name, clinic string) string {
	return fmt.Sprintf(`%s, necesito una hora específica distinta a las 10:00 AM. Por favor, indícame la hora para tu cita en %s. (Ej: "14:30")`, name, clinic)
}

func msgNoAvailability(clinic string) string {
	return fmt.Sprintf("Lo siento, no hay profesionales disponibles en %s para esa hora. Por favor, elige otra fecha.", clinic)
}

func msgDateAvailable(when, clinic string) string {
	return fmt.Sprintf("✅ Genial! La fecha %s está disponible en %s.", when, clinic)
}

func msgChooseEmployee(clinic string) string {
	return fmt.Sprintf(`Estos son los profesionales disponibles en %s para esa hora. Selecciona uno o pulsa "Cancelar" para salir:`, clinic)
}

func msgSelectionCancelled(clinic string) string {
	return fmt.Sprintf(`Reserva en %s cancelada. Escribe "quiero una cita" para iniciar de nuevo.`, clinic)
}

func msgEmployeeChosen(employee, clinic string) string {
	return fmt.Sprintf("✅ Has seleccionado a %s en %s.", employee, clinic)
}

func msgCommitted(clinic, when string) string {
	return fmt.Sprintf("✅ ¡Cita confirmada en %s para %s!", clinic, when)
}

func msgCommitFailed(clinic string) string {
	return fmt.Sprintf("Hubo un error al crear tu cita en %s. Intenta de nuevo.", clinic)
}

func msgSlotTaken(clinic string) string {
	return fmt.Sprintf("Lo siento, ese horario acaba de ser reservado en %s. Por favor, elige otra fecha.", clinic)
}

func msgRevisedUnparsed(clinic string) string {
	return fmt.Sprintf(`No entendí la fecha. Por favor, usa un formato tipo "15 de marzo a las 10" para tu cita en %s.`, clinic)
}

func msgConfirmed(clinic string) string {
	return fmt.Sprintf("✅ ¡Gracias! Tu cita en %s ha sido confirmada.", clinic)
}

func msgAlreadyConfirmed(clinic string) string {
	return fmt.Sprintf("Tu cita en %s ya estaba confirmada. ¡Te esperamos!", clinic)
}

func msgConfirmCancelled(clinic string) string {
	return fmt.Sprintf("Tu cita en %s fue cancelada anteriormente. Si quieres reagendar, puedes escribirnos.", clinic)
}

func msgCancelled(clinic string) string {
	return fmt.Sprintf("Tu cita en %s ha sido cancelada. Puedes volver a agendar cuando quieras.", clinic)
}

func msgAlreadyCancelled(clinic string) string {
	return fmt.Sprintf("Tu cita en %s ya estaba cancelada.", clinic)
}

func msgStatusUpdateError(clinic string) string {
	return fmt.Sprintf("Hubo un error procesando tu respuesta para la cita. Por favor, contacta a %s.", clinic)
}

func msgRetry(name string) string {
	if name == "" {
		return "No entiendo tu mensaje, por favor intenta de nuevo"
	}
	return fmt.Sprintf("%s, no entiendo tu mensaje, por favor intenta de nuevo", name)
}

func msgWelcome(clinic string) string {
	return fmt.Sprintf("Bienvenido/a a %s. Parece que es tu primera vez aquí.", clinic)
}

func msgRegistered(clinic, name string) string {
	return fmt.Sprintf("✅ ¡Registro completado en %s, %s! ¿En qué puedo ayudarte hoy?", clinic, name)
}

func msgRegistrationFailed(clinic string) string {
	return fmt.Sprintf("Hubo un error al registrarte en %s. Intenta más tarde.", clinic)
}
