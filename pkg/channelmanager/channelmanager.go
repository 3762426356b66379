// Package channelmanager computes a rank's local frequency axis from the
// correlator mode's centre frequency, channel width and this rank's
// receiver id.
package channelmanager

// ChannelManager derives the frequency axis a receiving rank is
// responsible for, given the array-wide centre frequency and channel
// width and this rank's position among receiving ranks.
type ChannelManager struct {
	channelWidth    float64
	nChan           int
	receiverID      int
	nReceivingProcs int
}

func New(channelWidth float64, nChan, receiverID, nReceivingProcs int) *ChannelManager {
	return &ChannelManager{
		channelWidth:    channelWidth,
		nChan:           nChan,
		receiverID:      receiverID,
		nReceivingProcs: nReceivingProcs,
	}
}

// Axis returns this rank's nChan-length frequency axis (Hz, ascending),
// given the array centre frequency reported by the current metadata
// cycle. Ranks are laid out contiguously along frequency in receiverID
// order, each owning nChan channels.
func (c *ChannelManager) Axis(centreFreqHz float64) []float64 {
	totalChan := c.nChan * c.nReceivingProcs
	firstChanGlobal := c.receiverID * c.nChan
	startFreq := centreFreqHz - float64(totalChan)/2*c.channelWidth

	axis := make([]float64, c.nChan)
	for i := 0; i < c.nChan; i++ {
		axis[i] = startFreq + float64(firstChanGlobal+i)*c.channelWidth
	}
	return axis
}

// ChannelWidth returns the fixed per-channel width in Hz.
func (c *ChannelManager) ChannelWidth() float64 { return c.channelWidth }

// NChan returns the number of channels this rank owns.
func (c *ChannelManager) NChan() int { return c.nChan }
