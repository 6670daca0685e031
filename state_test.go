package ur_arm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func subPackage(typ byte, data []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(len(data)+msgHeaderLen))
	b.WriteByte(typ)
	b.Write(data)
	return b.Bytes()
}

func message(typ byte, body []byte) []byte {
	return subPackage(typ, body)
}

// robotStatePacket encodes a robot-state message the way the controller does.
func robotStatePacket(running bool, joints JointVector, pose PoseVector) []byte {
	mode := make([]byte, 8+10)
	binary.BigEndian.PutUint64(mode, 12345)
	mode[8] = 1  // real robot connected
	mode[9] = 1  // enabled
	mode[10] = 1 // power on
	if running {
		mode[13] = 1
	}

	jointData := make([]byte, 6*jointRecordLen)
	for i, q := range joints {
		binary.BigEndian.PutUint64(jointData[i*jointRecordLen:], math.Float64bits(q))
	}

	cart := make([]byte, 12*8)
	for i, v := range pose {
		binary.BigEndian.PutUint64(cart[i*8:], math.Float64bits(v))
	}

	var body []byte
	body = append(body, subPackage(pkgRobotMode, mode)...)
	body = append(body, subPackage(pkgJointData, jointData)...)
	body = append(body, subPackage(3, make([]byte, 20))...)
	body = append(body, subPackage(pkgCartesianInfo, cart)...)
	return message(msgTypeRobotState, body)
}

func TestParseRobotState(t *testing.T) {
	joints := JointVector{0, -1.57, 1.57, -1.57, -1.57, 0}
	pose := PoseVector{0.4, -0.1, 0.3, 3.14, 0, 0.1}
	pkt := robotStatePacket(true, joints, pose)

	typ, body, err := readMessage(bytes.NewReader(pkt))
	require.NoError(t, err)
	assert.Equal(t, byte(msgTypeRobotState), typ)

	var st RobotState
	require.NoError(t, parseRobotState(body, &st))
	assert.True(t, st.ProgramRunning)
	assert.True(t, st.PowerOn)
	assert.False(t, st.EmergencyStopped)
	assert.Equal(t, uint64(12345), st.Timestamp)
	assert.Equal(t, joints, st.Joints)
	assert.Equal(t, pose, st.Pose)
}

func TestParseRobotStateMalformed(t *testing.T) {
	var st RobotState
	assert.Error(t, parseRobotState([]byte{0, 0, 0}, &st))
	assert.Error(t, parseRobotState(subPackage(pkgJointData, make([]byte, 10)), &st))

	bad := []byte{0, 0, 0, 2, msgTypeRobotState}
	_, _, err := readMessage(bytes.NewReader(bad))
	assert.Error(t, err)
}

func TestStateMonitor(t *testing.T) {
	logger := logging.NewTestLogger(t)
	client, server := net.Pipe()

	m := NewStateMonitor(client, logger)
	defer m.Close()

	_, err := m.IsProgramRunning()
	assert.True(t, errors.Is(err, ErrLink))

	pose := PoseVector{0.1, 0.2, 0.3, 0, 3.14, 0}
	go func() {
		server.Write(message(20, []byte("version")))
		server.Write(robotStatePacket(true, JointVector{1, 2, 3, 4, 5, 6}, pose))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitReady(ctx))

	running, err := m.IsProgramRunning()
	require.NoError(t, err)
	assert.True(t, running)

	gotPose, err := m.CurrentPose()
	require.NoError(t, err)
	assert.Equal(t, pose, gotPose)

	tool, err := m.CurrentToolPosition()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, tool)

	joints, err := m.CurrentJoints()
	require.NoError(t, err)
	assert.Equal(t, JointVector{1, 2, 3, 4, 5, 6}, joints)

	server.Close()
	<-m.done
	_, err = m.CurrentPose()
	assert.True(t, errors.Is(err, ErrLink))
}
