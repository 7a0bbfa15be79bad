package moderation

import "strings"

const crisisResponse = `I understand you're reaching out, but I'm not able to process messages about self-harm or crisis situations.

**If you're in immediate danger or crisis, please reach out for help:**
• **Crisis Text Line**: Text HOME to 741741
• **National Suicide Prevention Lifeline**: 988 or 1-800-273-8255
• **International**: https://findahelpline.com

For ongoing support with OCD and anxiety, I'm here to help with coping strategies, mindfulness techniques, and general wellness discussions. Feel free to share what's on your mind in a different way. 💙

Remember: You're not alone, and there are people who want to help. 🫂`

const violenceResponse = `I understand you may be going through a difficult time, but I'm not able to process messages containing violent content.

I'm here to provide support for OCD, anxiety, and mental wellness in a safe and positive way. Feel free to share what you're struggling with using different words, and I'll do my best to help. 💙

If you're feeling overwhelmed, consider reaching out to a mental health professional or crisis support service.`

const genericResponse = `I'm here to provide a safe and supportive space for discussing OCD and mental wellness. I'm not able to process your current message, but I'd love to help if you'd like to rephrase what you're going through.

Feel free to share your thoughts about OCD, anxiety, or coping strategies in a different way. I'm here to listen and support you. 💙`

// SupportiveResponse picks the reply for a flagged message. Self-harm
// outranks violence, which outranks everything else.
func SupportiveResponse(categories []string) string {
	var violence bool
	for _, category := range categories {
		switch {
		case strings.HasPrefix(category, "self-harm"), strings.HasPrefix(category, "self_harm"):
			return crisisResponse
		case strings.HasPrefix(category, "violence"):
			violence = true
		}
	}
	if violence {
		return violenceResponse
	}
	return genericResponse
}
