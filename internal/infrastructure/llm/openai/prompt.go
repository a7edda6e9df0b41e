package openai

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

const analysisSystemPrompt = "You are a medical AI assistant providing educational health information. Always emphasize the importance of consulting healthcare professionals."

const analysisSchema = `{
  "conditions": [
    {
      "name": "condition name",
      "confidence": 85,
      "severity": "mild|moderate|severe",
      "description": "detailed description",
      "matching_symptoms": ["symptom1", "symptom2"]
    }
  ],
  "medications": [
    {
      "name": "medication name",
      "dosage": "dosage instructions",
      "duration": "treatment duration",
      "route": "oral|topical|injection",
      "side_effects": ["side effect 1", "side effect 2"],
      "purpose": "what it treats",
      "precautions": "important warnings"
    }
  ],
  "severity_overall": "mild|moderate|severe",
  "seek_immediate_care": false,
  "care_recommendations": [
    "recommendation 1",
    "recommendation 2"
  ],
  "follow_up": "when to follow up with healthcare provider",
  "disclaimer": "This is AI-generated medical guidance. Always consult with healthcare professionals for proper medical advice."
}`

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func buildAnalysisPrompt(record *domain.AnalysisRecord) string {
	const notProvided = "Not provided"
	const noneProvided = "None provided"

	return fmt.Sprintf(`You are an experienced medical AI assistant. Analyze the following patient information and symptoms:

Patient Information:
- Age: %s
- Gender: %s
- Weight: %s
- Known Allergies: %s
- Current Medications: %s

Symptoms: %s
Additional Description: %s

Please provide a comprehensive medical analysis including:
1. Top 3 most likely conditions with confidence percentages
2. Recommended medications with dosage, duration, and precautions
3. Severity assessment (mild, moderate, severe)
4. When to seek immediate medical attention
5. General care recommendations

Format the response as JSON with exactly the following structure and no other keys:
%s

IMPORTANT: This is for educational purposes only. Always recommend consulting with healthcare professionals for proper diagnosis and treatment.`,
		orDefault(record.Age, notProvided),
		orDefault(record.Gender, notProvided),
		orDefault(record.Weight, notProvided),
		orDefault(record.Allergies, noneProvided),
		orDefault(record.Medications, noneProvided),
		strings.Join(record.Symptoms, ", "),
		orDefault(record.Description, noneProvided),
		analysisSchema,
	)
}

const chatSystemPrompt = `You are a helpful medical AI assistant. You provide educational health information and guidance, but always emphasize that your advice should not replace professional medical consultation.

Key guidelines:
- Be empathetic and supportive
- Ask clarifying questions when needed
- Provide confidence scores (1-100) for your responses
- Always recommend consulting healthcare professionals for serious symptoms
- Explain your reasoning briefly
- Focus on symptom assessment, general health advice, and when to seek care
- Never provide specific diagnoses or prescribe medications

For each response, include:
1. A helpful, empathetic response to the user's query
2. A confidence score for your assessment
3. Brief reasoning for your response
4. When appropriate, recommend seeking professional medical care

Format your response as JSON:
{
  "response": "your helpful response here",
  "confidence": 85,
  "reasoning": "brief explanation of your assessment",
  "recommend_medical_care": false,
  "care_urgency": "routine|urgent|emergency"
}`

func buildChatMessages(conversation domain.ConversationContext, message string) []openai.ChatCompletionMessage {
	system := chatSystemPrompt
	if conversation.Language != "" && conversation.Language != domain.DefaultChatLanguage {
		system += fmt.Sprintf("\n\nWrite the \"response\" and \"reasoning\" values in %s. Keep the JSON keys and the care_urgency value in English.", conversation.Language)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(conversation.Turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, turn := range conversation.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.ChatRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
	return messages
}
