package llm

import "github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"

const summarySystemPrompt = "You are a science communicator who explains complex research clearly " +
	"at a specified reading level. Stay factually accurate and avoid " +
	"hallucinating details not present in the original text."

const prereadingSystemPrompt = "You are an expert educator who helps readers prepare for complex academic papers."

var summaryPrompts = map[domain.ReadingLevel]string{
	domain.LevelGrade5: "Explain the following academic paper to a 5th-grade student using simple " +
		"everyday words and short sentences. Avoid technical jargon; if you must " +
		"use a technical term, briefly explain it. Focus on: what the paper is about, " +
		"why it matters, and the big idea. Use 3-5 short paragraphs.",
	domain.LevelMiddle: "Explain the following academic paper to a middle school student (around 12-15 years old). " +
		"You can use some technical terms, but briefly explain them in simple words. " +
		"Cover: what problem the paper solves, why it's important, and roughly how it solves it. " +
		"Use 3-6 paragraphs.",
	domain.LevelHigh: "Explain the following academic paper to a high school student (16-18 years old) " +
		"with good reading skills but no domain expertise. You can use more technical vocabulary, " +
		"but avoid dense math. Make sure to explain:\n" +
		"- What problem the paper addresses\n" +
		"- Why the problem matters\n" +
		"- The main idea behind the solution\n" +
		"- Any key results or findings\n" +
		"Use 4-7 paragraphs.",
}

const quizPrompt = `Create a quiz to test understanding of this paper's main ideas.
Generate 6-8 multiple-choice questions.
Each question must have exactly 4 options and 1 correct answer.
The incorrect options should be plausible but clearly wrong.
After each question, provide a short explanation for why the correct answer is right.
Output your answer as strict JSON with this structure:

{
  "questions": [
    {
      "question": "string",
      "options": ["string", "string", "string", "string"],
      "correct_index": 0,
      "explanation": "string"
    }
  ]
}

Only output valid JSON. Do not include any extra text.`

const prereadingPrompt = `Analyze this academic paper and create comprehensive pre-reading materials to help readers prepare.

Your task is to:
1. Identify 5-10 key technical terms (jargon) with clear, accessible definitions
2. List 3-5 prerequisite concepts readers should understand beforehand
3. Assess the difficulty level for a general scientific audience
4. Estimate reading time based on paper length and complexity
5. Extract 5-8 key concepts covered in the paper

Output your answer as strict JSON with this structure:

{
  "jargon": [
    {"term": "string", "definition": "string", "example_usage": "string (optional)"}
  ],
  "prerequisites": [
    {"concept": "string", "why_needed": "string", "resources": ["string"]}
  ],
  "difficulty_level": "beginner" | "intermediate" | "advanced" | "expert",
  "estimated_read_time_minutes": number,
  "key_concepts": ["string"]
}

Only output valid JSON. Do not include any extra text.`
