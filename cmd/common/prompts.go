package common

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

var (
	// PromptPassphrase is the standard passphrase prompt.
	PromptPassphrase = &survey.Password{
		Message: "Passphrase:",
	}

	// PromptCreatePassphrase is the standard create a new passphrase prompt.
	PromptCreatePassphrase = &survey.Password{
		Message: "Choose a new passphrase:",
	}

	// PromptRepeatPassphrase is the standard repeat a new passphrase prompt.
	PromptRepeatPassphrase = &survey.Password{
		Message: "Repeat passphrase:",
	}
)

// ConfirmText asks the user to type the given text and aborts on any other answer.
func ConfirmText(confirmText string) {
	var result string
	prompt := &survey.Input{
		Message: fmt.Sprintf("Enter '%s' (without quotes) to confirm:", confirmText),
	}
	err := survey.AskOne(prompt, &result)
	cobra.CheckErr(err)

	if result != confirmText {
		cobra.CheckErr("Aborted.")
	}
}

// AskNewPassphrase asks the user to create a new passphrase.
func AskNewPassphrase() string {
	var answers struct {
		Passphrase  string
		Passphrase2 string
	}
	questions := []*survey.Question{
		{
			Name:     "passphrase",
			Prompt:   PromptCreatePassphrase,
			Validate: survey.Required,
		},
		{
			Name:   "passphrase2",
			Prompt: PromptRepeatPassphrase,
			Validate: func(ans interface{}) error {
				if ans.(string) != answers.Passphrase {
					return fmt.Errorf("passphrases do not match")
				}
				return nil
			},
		},
	}
	err := survey.Ask(questions, &answers)
	cobra.CheckErr(err)

	return answers.Passphrase
}
