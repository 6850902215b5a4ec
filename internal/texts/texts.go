package texts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"attestation-core/pkg/config"
)

// Chat copy. All user-facing strings live here so the flow code stays
// readable.

func formatUSD(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatGB(bytes int64) string {
	return strconv.FormatFloat(float64(bytes)/1e9, 'f', -1, 64)
}

func Greeting(fin config.FinanceConfig) string {
	return "Here you can attest your addresses as investor.\n" +
		"A proof of attestation will be posted publicly on the distributed ledger.\n\n" +
		fmt.Sprintf("The price of attestation is $%s. ", formatUSD(fin.PriceUSD)) +
		"The payment is nonrefundable even if the attestation fails for any reason.\n\n" +
		"After payment, you will receive a link to VerifyInvestor service " +
		"in order to allow the bot to receive an access to your account. " +
		"And then, you will receive verification request, that you need to complete.\n\n" +
		"After you successfully attestation for the first time, " +
		fmt.Sprintf("you receive a $%s reward in Bytes.", formatUSD(fin.RewardUSD))
}

func WeHaveReferralProgram(fin config.FinanceConfig) string {
	return "Remember, we have a referral program: " +
		"if you send Bytes from your attested address to a new user who is not attested yet, " +
		"and he/she uses those Bytes to pay for a successful attestation, " +
		fmt.Sprintf("you receive a $%s reward in Bytes.", formatUSD(fin.ReferralRewardUSD))
}

func InsertMyAddress(rn config.RealNameConfig) string {
	if rn.Required {
		return "To participate in this attestation, your real name has to be attested and we require to provide your private profile, " +
			fmt.Sprintf("which includes your: %s.\n", strings.Join(rn.RequiredFields, ", ")) +
			"If you are not attested yet, find \"Real name attestation bot\" in the Bot Store and have your address attested.\n" +
			fmt.Sprintf("If you are already attested, click this link to reveal your private profile to us: [profile request](profile-request:%s). ", strings.Join(rn.RequiredFields, ",")) +
			"We'll keep your personal data private and only send it to VerifyInvestor service."
	}
	return "Please send me your address that you wish to attest (click ... and Insert my address).\n" +
		"Make sure you are in a single-address wallet. " +
		"If you don't have a single-address wallet, " +
		"please add one (burger menu, add wallet) and fund it with the amount sufficient to pay for the attestation."
}

func RequireInsertProfileData() string {
	return "You have to provide your attested profile, just an address is not enough."
}

func RequireInsertAddress() string {
	return "Private profile is not required"
}

func WrongRealNameAttestorAddress(attestorAddress string, trusted []string) string {
	return fmt.Sprintf("We don't recognize the attestor %s who attested your profile.\n", attestorAddress) +
		fmt.Sprintf("The only trusted attestors are: %s", strings.Join(trusted, ", "))
}

func MissingProfileFields(missing []string) string {
	return fmt.Sprintf("These fields are missing in your profile: %s", strings.Join(missing, ", "))
}

func GoingToAttestAddress(address string, realNameRequired bool) string {
	saved := ""
	if realNameRequired {
		saved = "Saved your personal data.\n"
	}
	return fmt.Sprintf("Thanks. %sGoing to attest your address: %s.", saved, address)
}

func PleasePay(receivingAddress string, price int64, userAddress string) string {
	return fmt.Sprintf("Please pay for the attestation: [attestation payment](byteball:%s?amount=%d&single_address=single%s).",
		receivingAddress, price, userAddress)
}

func ReceivedPaymentFromMultipleAddresses() string {
	return "Received a payment but looks like it was not sent from a single-address wallet."
}

func ReceivedPaymentNotFromExpectedAddress(address string) string {
	return fmt.Sprintf("Received a payment but it was not sent from the expected address %s.", address)
}

func SwitchToSingleAddress() string {
	return "Make sure you are in a single-address wallet, " +
		"otherwise switch to a single-address wallet or create one and send me your address before paying."
}

func ReceivedYourPayment(amount int64) string {
	return fmt.Sprintf("Received your payment of %s GB, waiting for confirmation. It should take 5-10 minutes.", formatGB(amount))
}

func PaymentIsConfirmed() string {
	return "Your payment is confirmed."
}

func ClickInvestorLink(redirectURL string) string {
	return fmt.Sprintf("Please click this link to grant bot access to your verification status: %s\n", redirectURL) +
		"If you already allowed access, please wait, while the bot check it."
}

func ReceivedAuthToUserAccount() string {
	return "The bot received access to your account, and sent verification request."
}

func WaitingWhileVerificationRequestFinished() string {
	return "Please complete verification request.\n" +
		"If you already completed verification request, please wait, while the bot check it."
}

func VerificationRequestCompletedWithStatus(statusDescription string) string {
	return fmt.Sprintf("Verification request completed with status: %q.", statusDescription)
}

func InAttestation() string {
	return "Verification request was confirmed. You are in attestation. Please, wait."
}

func AttestedSuccess(unit string, fin config.FinanceConfig) string {
	return fmt.Sprintf("Now you are attested investor, see the attestation unit: https://explorer.obyte.org/#%s", unit) +
		"\n\n" + WeHaveReferralProgram(fin)
}

func AttestedSuccessFirstTimeBonus(rewardInBytes int64, fin config.FinanceConfig) string {
	return "You requested an attestation for the first time and will receive a welcome bonus " +
		fmt.Sprintf("of $%s (%s GB) ", formatUSD(fin.RewardUSD), formatGB(rewardInBytes)) +
		"from the distribution fund."
}

func ReferredUserBonus(referralRewardInBytes int64, fin config.FinanceConfig) string {
	return "You referred a user who has just verified his identity and you will receive a reward " +
		fmt.Sprintf("of $%s (%s GB) ", formatUSD(fin.ReferralRewardUSD), formatGB(referralRewardInBytes)) +
		"from the distribution fund.\n" +
		"Thank you for bringing in a new user, the value of the ecosystem grows with each new user!"
}

func RewardSent(kind string) string {
	return fmt.Sprintf("Sent the %s reward", kind)
}

func AlreadyAttested(attestationDate time.Time) string {
	return fmt.Sprintf("You were already attested at %s UTC. Attest [again](command: again)?",
		attestationDate.UTC().Format("2006-01-02 15:04:05"))
}

func CurrentAttestationFailed() string {
	return "Your attestation failed. Try [again](command: again)?"
}

func PreviousAttestationFailed() string {
	return "Your previous attestation failed. Try [again](command: again)?"
}

func RateUnavailable() string {
	return "The exchange rate is not available yet, please try again in a few minutes."
}

func PaymentTooLate(amount int64) string {
	return fmt.Sprintf("Received %s GB from you.\nYour payment is too late and less than the current price.", formatGB(amount))
}

func PaymentTooSmall(amount, price int64) string {
	return fmt.Sprintf("Received %s GB from you, which is less than the expected %s GB.", formatGB(amount), formatGB(price))
}
