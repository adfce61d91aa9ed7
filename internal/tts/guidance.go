package tts

// Guidance returns setup instructions for a failed session, or "" when the
// error needs no user action.
func Guidance(provider ProviderKind, err error) string {
	te := AsError(err, CodeUnknown)
	if te == nil {
		return ""
	}

	switch te.Code {
	case CodeProcessSpawnFailed:
		return buildPiperInstallGuidance()
	case CodeInvalidVoiceConfig:
		if provider == ProviderPiper {
			return buildPiperModelGuidance()
		}
		return "Check the voice and engine settings with: insight-tts voices --provider " + string(provider)
	case CodeAuthenticationRejected:
		return buildCredentialGuidance(provider)
	case CodeQuotaExceeded:
		return "The provider rejected the request due to rate limits or quota. Wait and try again."
	case CodeNetworkUnavailable:
		return "The provider could not be reached. Check your network connection and try again."
	case CodeDevice:
		return "The audio output device failed. Check that an output device is connected."
	}
	return ""
}

// buildPiperInstallGuidance provides instructions for installing Piper
func buildPiperInstallGuidance() string {
	return `Piper TTS could not be started. To install:

1. Download Piper binary from: https://github.com/rhasspy/piper/releases
2. Extract and add to PATH, or set the command in the config file:

   piper:
     command: /opt/piper/piper

3. Download a voice model from: https://github.com/rhasspy/piper/blob/master/VOICES.md`
}

// buildPiperModelGuidance provides instructions for configuring Piper models
func buildPiperModelGuidance() string {
	return `Piper voice model not found. To configure:

1. Download a voice model and its .onnx.json file:
   mkdir -p ~/.local/share/piper/models
   cd ~/.local/share/piper/models
   wget https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0/en/en_US/amy/medium/en_US-amy-medium.onnx
   wget https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0/en/en_US/amy/medium/en_US-amy-medium.onnx.json

2. Select it in the config file (a path or a name found in voices_dir):
   piper:
     model: en_US-amy-medium`
}

func buildCredentialGuidance(provider ProviderKind) string {
	switch provider {
	case ProviderPolly:
		return `AWS credentials were rejected or are missing. Configure them with:

   export AWS_ACCESS_KEY_ID=...
   export AWS_SECRET_ACCESS_KEY=...

or add a [default] profile to ~/.aws/credentials.`
	case ProviderElevenLabs:
		return `The ElevenLabs API key was rejected or is missing. Set it with:

   export ELEVENLABS_API_KEY=...`
	}
	return "Check the provider credentials."
}
