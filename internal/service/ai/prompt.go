package ai

import (
	"fmt"

	"github.com/mleone/profile-chatbot/backend/internal/model/profile"
)

const basePrompt = `You are an AI assistant representing a professional based on their resume/profile.
Answer questions about their experience, skills, projects, and background in a helpful and professional manner.
Keep responses concise and relevant. If asked about something not in the resume, politely say you don't have that information.`

// BuildSystemPrompt assembles the persona instruction with the resume
// content injected.
func BuildSystemPrompt(prof profile.Profile) string {
	return fmt.Sprintf("%s\n\nName: %s\nHeadline: %s\n\nResume/Profile Content:\n%s",
		basePrompt, prof.Name, prof.Headline, prof.Resume)
}
